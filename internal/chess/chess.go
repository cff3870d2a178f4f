// Package chess implements the board and move checks the broker runs at
// analyse time. It is not a chess engine: no search, no evaluation. It parses
// a FEN and replays a UCI move sequence, checking for each move that the
// source square holds a piece of the side to move and that the destination
// does not hold a piece of that same side. It does not check how a piece
// moves (a move is accepted whatever its geometry), nor check, castling or
// en passant.
//
// The package has no notion of variants. The broker replays the move
// sequence only for the "standard" variant; for every other variant tag it
// requires a well-formed FEN and does not check the moves at all.
package chess

import (
	"fmt"
	"strings"
)

// VariantStandard is the only variant tag for which the broker replays the
// move sequence through ValidateSequence.
const VariantStandard = "standard"

type piece byte

const empty piece = 0

// Board is a minimal 8x8 mailbox representation plus the side to move,
// sufficient for the presence and ownership checks ValidateSequence makes.
type Board struct {
	squares   [64]piece // a1=0 ... h8=63
	whiteMove bool
}

// ParseFEN parses the piece-placement and active-color fields of a FEN
// string. Only those two fields are required by move validation; castling
// rights, en-passant target, and move counters are accepted but not
// interpreted.
func ParseFEN(fen string) (*Board, error) {
	fields := strings.Fields(strings.TrimSpace(fen))
	if len(fields) < 2 {
		return nil, fmt.Errorf("chess: malformed fen %q: expected at least 2 fields", fen)
	}

	b := &Board{}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("chess: malformed fen %q: expected 8 ranks, got %d", fen, len(ranks))
	}

	for rankIdx, rank := range ranks {
		rankNum := 7 - rankIdx // ranks[0] is rank 8
		file := 0
		for _, ch := range rank {
			switch {
			case ch >= '1' && ch <= '8':
				file += int(ch - '0')
			case isPieceChar(ch):
				if file >= 8 {
					return nil, fmt.Errorf("chess: malformed fen %q: rank %d overflows", fen, rankNum+1)
				}
				b.squares[rankNum*8+file] = piece(ch)
				file++
			default:
				return nil, fmt.Errorf("chess: malformed fen %q: unexpected character %q", fen, ch)
			}
		}
		if file != 8 {
			return nil, fmt.Errorf("chess: malformed fen %q: rank %d has %d files, want 8", fen, rankNum+1, file)
		}
	}

	switch fields[1] {
	case "w":
		b.whiteMove = true
	case "b":
		b.whiteMove = false
	default:
		return nil, fmt.Errorf("chess: malformed fen %q: active color must be 'w' or 'b'", fen)
	}

	return b, nil
}

func isPieceChar(ch rune) bool {
	switch ch {
	case 'p', 'n', 'b', 'r', 'q', 'k', 'P', 'N', 'B', 'R', 'Q', 'K':
		return true
	default:
		return false
	}
}

// ValidateSequence parses startFEN and applies moves in order (UCI
// coordinate notation, e.g. "e2e4", "e7e8q" for promotion), returning an
// error identifying the first illegal move. It checks piece presence,
// ownership by the side to move, and destination not occupied by the mover's
// own piece; it does not enforce check legality, since the broker's job is
// to reject garbage, not to referee a full game.
func ValidateSequence(startFEN string, moves []string) error {
	b, err := ParseFEN(startFEN)
	if err != nil {
		return err
	}

	for i, mv := range moves {
		if err := b.applyMove(mv); err != nil {
			return fmt.Errorf("chess: move %d (%s): %w", i, mv, err)
		}
	}
	return nil
}

func (b *Board) applyMove(mv string) error {
	from, to, promo, err := parseUCIMove(mv)
	if err != nil {
		return err
	}

	p := b.squares[from]
	if p == empty {
		return fmt.Errorf("no piece on source square")
	}
	if isWhitePiece(p) != b.whiteMove {
		return fmt.Errorf("piece does not belong to the side to move")
	}
	target := b.squares[to]
	if target != empty && isWhitePiece(target) == b.whiteMove {
		return fmt.Errorf("destination occupied by own piece")
	}

	if promo != 0 {
		b.squares[to] = promotedPiece(promo, b.whiteMove)
	} else {
		b.squares[to] = p
	}
	b.squares[from] = empty
	b.whiteMove = !b.whiteMove
	return nil
}

func parseUCIMove(mv string) (from, to int, promo byte, err error) {
	if len(mv) != 4 && len(mv) != 5 {
		return 0, 0, 0, fmt.Errorf("malformed uci move")
	}
	from, err = squareIndex(mv[0:2])
	if err != nil {
		return 0, 0, 0, err
	}
	to, err = squareIndex(mv[2:4])
	if err != nil {
		return 0, 0, 0, err
	}
	if len(mv) == 5 {
		promo = mv[4]
		if !strings.ContainsRune("qrbn", rune(promo)) {
			return 0, 0, 0, fmt.Errorf("invalid promotion piece %q", promo)
		}
	}
	return from, to, promo, nil
}

func squareIndex(sq string) (int, error) {
	if len(sq) != 2 {
		return 0, fmt.Errorf("malformed square %q", sq)
	}
	file := sq[0]
	rank := sq[1]
	if file < 'a' || file > 'h' {
		return 0, fmt.Errorf("malformed square %q: bad file", sq)
	}
	if rank < '1' || rank > '8' {
		return 0, fmt.Errorf("malformed square %q: bad rank", sq)
	}
	return int(rank-'1')*8 + int(file-'a'), nil
}

func isWhitePiece(p piece) bool {
	return p >= 'A' && p <= 'Z'
}

func promotedPiece(promo byte, white bool) piece {
	if white {
		return piece(strings.ToUpper(string(promo))[0])
	}
	return piece(strings.ToLower(string(promo))[0])
}
