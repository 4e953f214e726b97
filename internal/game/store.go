package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castlebridge/chessweb/internal/archive"
)

const archiveTimeout = 5 * time.Second

// Store hands out sessions by id, creating them lazily on first access.
// Sessions live for the process lifetime; there is no eviction.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	factory  BindingFactory
	defaults Settings
	repo     archive.Repository
	logger   *zap.Logger
}

func NewStore(factory BindingFactory, defaults Settings, repo archive.Repository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*Session),
		factory:  factory,
		defaults: defaults,
		repo:     repo,
		logger:   logger,
	}
}

// Get returns the session for id, creating it (and its engine pair) when
// it does not exist yet.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := newSession(id, st.factory, st.defaults, st.logger)
	st.sessions[id] = s
	st.logger.Info("session created", zap.String("session_id", id))
	return s
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// MaybeArchive persists the session's finished game, once. Archive
// failures are logged and swallowed: persistence never affects play.
func (st *Store) MaybeArchive(ctx context.Context, s *Session) {
	if st.repo == nil {
		return
	}
	rec, ok := s.FinishedRecord()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	if err := st.repo.Insert(ctx, rec); err != nil {
		st.logger.Warn("could not archive finished game",
			zap.String("session_id", s.ID),
			zap.String("game_id", rec.ID),
			zap.Error(err),
		)
		return
	}
	st.logger.Info("game archived",
		zap.String("session_id", s.ID),
		zap.String("game_id", rec.ID),
		zap.String("result", rec.Result),
	)
}

// Recent returns the session's archived games, newest first.
func (st *Store) Recent(ctx context.Context, sessionID string, limit int) ([]*archive.Record, error) {
	if st.repo == nil {
		return []*archive.Record{}, nil
	}
	return st.repo.Recent(ctx, sessionID, limit)
}

// CloseAll tears down every session's engine subprocesses. Called at
// shutdown.
func (st *Store) CloseAll() {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
