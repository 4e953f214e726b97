package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type postgresRepo struct {
	db *sql.DB
}

// NewPostgres opens a Postgres-backed repository. The games table is
// expected to exist (see schema in the repository docs).
func NewPostgres(databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &postgresRepo{db: db}, nil
}

func (p *postgresRepo) Insert(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record requires an id")
	}
	movesUCI, _ := json.Marshal(rec.MovesUCI)
	movesSAN, _ := json.Marshal(rec.MovesSAN)

	const q = `INSERT INTO games (
	    game_id, session_id, mode, result, result_method,
	    moves_uci, moves_san, fen, started_at, ended_at, duration_ms
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	  ON CONFLICT (game_id) DO NOTHING`

	_, err := p.db.ExecContext(ctx, q,
		rec.ID, rec.SessionID, rec.Mode, rec.Result, rec.Method,
		string(movesUCI), string(movesSAN), rec.FEN,
		rec.StartedAt, rec.EndedAt, rec.Duration.Milliseconds(),
	)
	return err
}

func (p *postgresRepo) Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT game_id, session_id, mode, result, result_method,
	    moves_uci, moves_san, fen, started_at, ended_at, duration_ms
	  FROM games WHERE session_id = $1
	  ORDER BY ended_at DESC LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		var movesUCI, movesSAN string
		var durationMS int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Mode, &rec.Result, &rec.Method,
			&movesUCI, &movesSAN, &rec.FEN, &rec.StartedAt, &rec.EndedAt, &durationMS); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(movesUCI), &rec.MovesUCI)
		_ = json.Unmarshal([]byte(movesSAN), &rec.MovesSAN)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if out == nil {
		out = []*Record{}
	}
	return out, rows.Err()
}

func (p *postgresRepo) Close() error {
	return p.db.Close()
}
