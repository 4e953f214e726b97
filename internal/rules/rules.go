// Package rules wraps the external move-generation library behind the
// narrow surface the game layer needs: legality, SAN, FEN, outcome. No
// chess rules are implemented here.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadSquare   = errors.New("square out of range")
)

type Color int

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// ParseColor accepts "white" or "black".
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white":
		return White, nil
	case "black":
		return Black, nil
	}
	return White, fmt.Errorf("unknown color %q", s)
}

// Square is a board coordinate with file and rank in 0-7.
type Square struct {
	File int `json:"file"`
	Rank int `json:"rank"`
}

func (s Square) Valid() bool {
	return s.File >= 0 && s.File <= 7 && s.Rank >= 0 && s.Rank <= 7
}

func (s Square) String() string {
	if !s.Valid() {
		return "??"
	}
	return string(rune('a'+s.File)) + string(rune('1'+s.Rank))
}

// Move is a candidate half-move. Promotion is the UCI suffix letter
// ("q", "r", "b", "n") or empty.
type Move struct {
	From      Square
	To        Square
	Promotion string
}

func (m Move) UCI() string {
	return m.From.String() + m.To.String() + strings.ToLower(strings.TrimSpace(m.Promotion))
}

// ParseUCI parses a 4-or-5 character coordinate move token. It does not
// check legality; Apply does.
func ParseUCI(tok string) (Move, error) {
	tok = strings.ToLower(strings.TrimSpace(tok))
	if len(tok) != 4 && len(tok) != 5 {
		return Move{}, fmt.Errorf("malformed UCI move %q", tok)
	}
	from, err := parseSquare(tok[0:2])
	if err != nil {
		return Move{}, fmt.Errorf("malformed UCI move %q: %w", tok, err)
	}
	to, err := parseSquare(tok[2:4])
	if err != nil {
		return Move{}, fmt.Errorf("malformed UCI move %q: %w", tok, err)
	}
	m := Move{From: from, To: to}
	if len(tok) == 5 {
		switch tok[4] {
		case 'q', 'r', 'b', 'n':
			m.Promotion = tok[4:5]
		default:
			return Move{}, fmt.Errorf("malformed UCI move %q: bad promotion", tok)
		}
	}
	return m, nil
}

func parseSquare(s string) (Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return Square{}, fmt.Errorf("bad square %q", s)
	}
	return Square{File: int(s[0] - 'a'), Rank: int(s[1] - '1')}, nil
}

// PieceInfo describes one occupied square for state snapshots. Symbol is
// the piece letter, uppercase for white and lowercase for black.
type PieceInfo struct {
	Symbol string `json:"piece"`
	Color  string `json:"color"`
}

// Position is the full game state needed to judge the next move. Values
// are immutable: Apply returns a new Position.
type Position struct {
	game *nchess.Game
}

func Starting() *Position {
	return &Position{game: nchess.NewGame()}
}

// FromFEN builds a position from a FEN string, rejecting malformed input.
func FromFEN(fen string) (*Position, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("parse FEN: %w", err)
	}
	return &Position{game: nchess.NewGame(opt)}, nil
}

func (p *Position) FEN() string {
	return p.game.FEN()
}

func (p *Position) SideToMove() Color {
	if p.game.Position().Turn() == nchess.Black {
		return Black
	}
	return White
}

func (p *Position) GameOver() bool {
	return p.game.Outcome() != nchess.NoOutcome
}

// Result returns the PGN result token, or "" while the game is running.
func (p *Position) Result() string {
	if p.game.Outcome() == nchess.NoOutcome {
		return ""
	}
	return string(p.game.Outcome())
}

// ResultToken is like Result but yields "*" for an unfinished game, the
// token the export format uses.
func (p *Position) ResultToken() string {
	return string(p.game.Outcome())
}

// Method names how the game ended (checkmate, stalemate, ...), "" if not
// over.
func (p *Position) Method() string {
	if p.game.Outcome() == nchess.NoOutcome {
		return ""
	}
	return strings.ToLower(p.game.Method().String())
}

// Apply validates m against the position and returns the advanced
// position together with the move's SAN text. The receiver is unchanged.
func (p *Position) Apply(m Move) (*Position, string, error) {
	if !m.From.Valid() || !m.To.Valid() {
		return nil, "", ErrBadSquare
	}
	pos := p.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, m.UCI())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	clone := p.game.Clone()
	if err := clone.Move(mv, nil); err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}
	return &Position{game: clone}, san, nil
}

func (p *Position) Legal(m Move) bool {
	_, _, err := p.Apply(m)
	return err == nil
}

// PieceAt reports the piece on sq, if any.
func (p *Position) PieceAt(sq Square) (PieceInfo, bool) {
	if !sq.Valid() {
		return PieceInfo{}, false
	}
	piece := p.game.Position().Board().Piece(nchess.NewSquare(nchess.File(sq.File), nchess.Rank(sq.Rank)))
	if piece == nchess.NoPiece {
		return PieceInfo{}, false
	}
	return pieceInfo(piece), true
}

// Grid returns the rank-major 8x8 snapshot used by the HTTP surface,
// rank 8 first (display order). Empty squares are nil.
func (p *Position) Grid() [8][8]*PieceInfo {
	var grid [8][8]*PieceInfo
	board := p.game.Position().Board()
	for rank := 7; rank >= 0; rank-- {
		for file := 0; file < 8; file++ {
			piece := board.Piece(nchess.NewSquare(nchess.File(file), nchess.Rank(rank)))
			if piece == nchess.NoPiece {
				continue
			}
			info := pieceInfo(piece)
			grid[7-rank][file] = &info
		}
	}
	return grid
}

func pieceInfo(piece nchess.Piece) PieceInfo {
	letter := pieceLetter(piece.Type())
	if piece.Color() == nchess.Black {
		return PieceInfo{Symbol: strings.ToLower(letter), Color: "black"}
	}
	return PieceInfo{Symbol: letter, Color: "white"}
}

func pieceLetter(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "K"
	case nchess.Queen:
		return "Q"
	case nchess.Rook:
		return "R"
	case nchess.Bishop:
		return "B"
	case nchess.Knight:
		return "N"
	default:
		return "P"
	}
}
