package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewPostgresStore(sqlxDB), mock
}

func TestLookup_ReturnsRegistrationOnHit(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"engine_id", "user_id", "display_name", "client_secret_hash", "provider_secret_hash", "params", "created_at", "updated_at",
	}).AddRow("engine-1", "user-1", "My Stockfish", "hash-c", "hash-p", []byte(`{"variant":"standard","maxDepth":40}`), now, now)

	mock.ExpectQuery("SELECT engine_id, user_id, display_name, client_secret_hash, provider_secret_hash, params, created_at, updated_at").
		WithArgs("engine-1").
		WillReturnRows(rows)

	reg, err := store.Lookup(context.Background(), "engine-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", reg.UserID)
	assert.Equal(t, "standard", reg.Params.Variant)
	assert.Equal(t, 40, reg.Params.MaxDepth)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookup_NotFoundMapsToBrokerError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT engine_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"engine_id", "user_id", "display_name", "client_secret_hash", "provider_secret_hash", "params", "created_at", "updated_at",
		}))

	_, err := store.Lookup(context.Background(), "missing")
	require.Error(t, err)
	be, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, be.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_NotFoundWhenNoRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM engine_registrations").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	require.Error(t, err)
	be, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, be.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateClientSecret_ReturnsFreshPlaintext(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE engine_registrations SET client_secret_hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	secret, err := store.RotateClientSecret(context.Background(), "engine-1")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)

	require.NoError(t, mock.ExpectationsWereMet())
}
