// Package archive persists finished games. The repository is optional
// infrastructure: failures are logged by callers, never surfaced to the
// player who made the final move.
package archive

import (
	"context"
	"time"
)

// Record is one finished game.
type Record struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Mode      string        `json:"mode"`
	Result    string        `json:"result"`
	Method    string        `json:"method,omitempty"`
	MovesUCI  []string      `json:"moves_uci"`
	MovesSAN  []string      `json:"moves_san"`
	FEN       string        `json:"fen"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
}

// Repository stores finished-game records.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error)
	Close() error
}
