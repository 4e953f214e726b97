package game

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/castlebridge/chessweb/internal/rules"
)

// ErrImportMove marks a rejected token during import. Moves replayed
// before the bad token stay applied.
var ErrImportMove = errors.New("unplayable move in import")

var resultTokens = map[string]bool{
	"1-0":     true,
	"0-1":     true,
	"1/2-1/2": true,
	"*":       true,
}

// ExportText renders the game as bracketed header lines followed by one
// UCI move per line and the result token.
func (s *Session) ExportText() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.baseFEN
	if base == "" {
		base = "startpos"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Event %q]\n", "chessweb casual game")
	fmt.Fprintf(&b, "[Date %q]\n", time.Now().UTC().Format("2006.01.02"))
	fmt.Fprintf(&b, "[White %q]\n", s.sideLabelLocked(rules.White))
	fmt.Fprintf(&b, "[Black %q]\n", s.sideLabelLocked(rules.Black))
	fmt.Fprintf(&b, "[Result %q]\n", s.pos.ResultToken())
	fmt.Fprintf(&b, "[FEN %q]\n", base)
	b.WriteString("\n")
	for _, rec := range s.moveLog {
		b.WriteString(rec.UCI)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(s.pos.ResultToken())
	b.WriteString("\n")
	return b.String()
}

func (s *Session) sideLabelLocked(c rules.Color) string {
	switch s.mode {
	case PlayerVsPlayer:
		return "Player"
	case EngineVsEngine:
		return "Engine"
	default:
		if c == s.playerColor {
			return "Player"
		}
		return "Engine"
	}
}

// Import resets the session and replays the UCI moves in r. Header lines
// (bracketed), blank lines, result tokens, and tokens too short to be a
// coordinate move are skipped; a [FEN ...] header other than startpos
// becomes the base position. On the first malformed or illegal remaining
// token the replay stops with ErrImportMove, keeping everything applied
// so far.
func (s *Session) Import(r io.Reader) error {
	var baseFEN string
	var tokens []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "["):
			if fen, ok := parseFENHeader(line); ok {
				baseFEN = fen
			}
			continue
		}
		for _, tok := range strings.Fields(line) {
			if !looksLikeMoveToken(tok) {
				continue
			}
			tokens = append(tokens, tok)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read import: %w", err)
	}

	if baseFEN != "" {
		if err := s.SetFEN(baseFEN); err != nil {
			return fmt.Errorf("import base position: %w", err)
		}
	} else {
		s.NewGame()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range tokens {
		m, err := rules.ParseUCI(tok)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrImportMove, tok)
		}
		if !s.applyMoveLocked(m) {
			return fmt.Errorf("%w: %q", ErrImportMove, tok)
		}
	}
	return nil
}

// looksLikeMoveToken keeps only candidate UCI coordinates: at least four
// characters, with no move-number dot in the leading characters. Result
// tokens and stray SAN fragments are ignored rather than treated as
// replay failures.
func looksLikeMoveToken(tok string) bool {
	if resultTokens[tok] {
		return false
	}
	if len(tok) < 4 {
		return false
	}
	return !strings.Contains(tok[:3], ".")
}

func parseFENHeader(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "[FEN")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), "]")
	fen := strings.Trim(strings.TrimSpace(rest), `"`)
	if fen == "" || fen == "startpos" {
		return "", false
	}
	return fen, true
}
