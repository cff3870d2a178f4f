package chess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestParseFEN_StartingPosition(t *testing.T) {
	b, err := ParseFEN(startingFEN)
	require.NoError(t, err)
	assert.True(t, b.whiteMove)
	assert.Equal(t, piece('R'), b.squares[0])
	assert.Equal(t, piece('r'), b.squares[56])
}

func TestParseFEN_RejectsWrongRankCount(t *testing.T) {
	_, err := ParseFEN("8/8/8/8/8/8/8 w - - 0 1")
	assert.Error(t, err)
}

func TestParseFEN_RejectsBadActiveColor(t *testing.T) {
	_, err := ParseFEN("8/8/8/8/8/8/8/8 x - - 0 1")
	assert.Error(t, err)
}

func TestValidateSequence_LegalOpeningMoves(t *testing.T) {
	err := ValidateSequence(startingFEN, []string{"e2e4", "e7e5", "g1f3"})
	assert.NoError(t, err)
}

func TestValidateSequence_RejectsMoveFromEmptySquare(t *testing.T) {
	err := ValidateSequence(startingFEN, []string{"e4e5"})
	assert.Error(t, err)
}

func TestValidateSequence_RejectsMovingOpponentsPiece(t *testing.T) {
	err := ValidateSequence(startingFEN, []string{"e7e5"})
	assert.Error(t, err)
}

func TestValidateSequence_RejectsCaptureOfOwnPiece(t *testing.T) {
	err := ValidateSequence(startingFEN, []string{"d1d2"})
	assert.Error(t, err)
}

func TestValidateSequence_RejectsMalformedMove(t *testing.T) {
	err := ValidateSequence(startingFEN, []string{"z9z9"})
	assert.Error(t, err)
}

func TestValidateSequence_AcceptsPromotion(t *testing.T) {
	fen := "8/P7/8/8/8/8/8/k6K w - - 0 1"
	err := ValidateSequence(fen, []string{"a7a8q"})
	assert.NoError(t, err)
}
