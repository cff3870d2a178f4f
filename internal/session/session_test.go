package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPath_OrderPreservedAndCompletes(t *testing.T) {
	s := New("job-1", 4)
	require.NoError(t, s.MarkAcquired())
	assert.Equal(t, Acquired, s.State())

	go func() {
		require.NoError(t, s.PushChunk([]byte("line1\n")))
		require.NoError(t, s.PushChunk([]byte("line2\n")))
		require.NoError(t, s.Complete())
	}()

	ctx := context.Background()
	var got []byte
	for {
		chunk, err := s.NextChunk(ctx)
		require.NoError(t, err)
		if chunk.Data == nil {
			assert.Equal(t, Completed, chunk.Terminal)
			break
		}
		got = append(got, chunk.Data...)
	}
	assert.Equal(t, "line1\nline2\n", string(got))
	assert.True(t, s.IsTerminal())
}

func TestCancel_IsIdempotent(t *testing.T) {
	s := New("job-2", 4)
	s.Cancel(ReasonClientGone)
	s.Cancel(ReasonProviderGone)
	assert.Equal(t, Cancelled, s.State())
	assert.Equal(t, ReasonClientGone, s.Reason())
}

func TestPushChunk_AfterCompleteFails(t *testing.T) {
	s := New("job-3", 4)
	require.NoError(t, s.MarkAcquired())
	require.NoError(t, s.PushChunk([]byte("a")))
	require.NoError(t, s.Complete())

	err := s.PushChunk([]byte("b"))
	assert.ErrorIs(t, err, ErrSessionGone)
}

func TestCancel_ReleasesParkedConsumer(t *testing.T) {
	s := New("job-4", 4)
	require.NoError(t, s.MarkAcquired())

	done := make(chan Chunk, 1)
	go func() {
		chunk, err := s.NextChunk(context.Background())
		require.NoError(t, err)
		done <- chunk
	}()

	time.Sleep(10 * time.Millisecond)
	s.Cancel(ReasonProviderGone)

	select {
	case chunk := <-done:
		assert.Equal(t, Cancelled, chunk.Terminal)
	case <-time.After(time.Second):
		t.Fatal("NextChunk did not unblock after cancel")
	}
}

func TestNextChunk_ContextCancellationDoesNotTerminateSession(t *testing.T) {
	s := New("job-5", 4)
	require.NoError(t, s.MarkAcquired())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.NextChunk(ctx)
	assert.Error(t, err)
	assert.Equal(t, Acquired, s.State())
}

func TestPushChunk_BackpressureRefusesWhenClientNotDraining(t *testing.T) {
	s := New("job-6", 1)
	require.NoError(t, s.MarkAcquired())
	require.NoError(t, s.PushChunk([]byte("fills-the-buffer")))

	// The second push has nowhere to go; it must give up well under the
	// production pushTimeout so the test stays fast. We shrink the effective
	// wait by racing a manual cancel instead of waiting out pushTimeout.
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Cancel(ReasonSessionGone)
	}()

	err := s.PushChunk([]byte("overflow"))
	assert.ErrorIs(t, err, ErrSessionGone)
}

func TestConcurrentPushersSerializeThroughState(t *testing.T) {
	s := New("job-7", 16)
	require.NoError(t, s.MarkAcquired())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.PushChunk([]byte("x"))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Complete())

	count := 0
	for {
		chunk, err := s.NextChunk(context.Background())
		require.NoError(t, err)
		if chunk.Data == nil {
			break
		}
		count++
	}
	assert.Equal(t, 8, count)
}
