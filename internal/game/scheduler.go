package game

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// jobGrace bounds how long past the search budget a task may run before
// it is abandoned.
const jobGrace = 3 * time.Second

// Scheduler dispatches engine-move computations. Each session holds at
// most one in-flight computation (the thinking flag is the gate); across
// sessions a semaphore bounds concurrent searches.
type Scheduler struct {
	sem    chan struct{}
	store  *Store
	logger *zap.Logger
}

func NewScheduler(maxConcurrent int, store *Store, logger *zap.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sem:    make(chan struct{}, maxConcurrent),
		store:  store,
		logger: logger,
	}
}

// MoveApplied is called after a player move commits. When the side to
// move belongs to an engine it claims the thinking slot and dispatches a
// search; otherwise it does nothing.
func (sc *Scheduler) MoveApplied(s *Session) bool {
	return sc.dispatch(s, false)
}

// RequestEngineMove forces a search for the side to move regardless of
// mode, as the manual engine-move endpoint does.
func (sc *Scheduler) RequestEngineMove(s *Session) bool {
	return sc.dispatch(s, true)
}

func (sc *Scheduler) dispatch(s *Session, force bool) bool {
	job, ok := s.TryBeginThinking(force)
	if !ok {
		return false
	}
	go func() {
		sc.sem <- struct{}{}
		defer func() { <-sc.sem }()
		sc.runJob(s, job)
	}()
	return true
}

// EngineMoveCycle runs one claim-search-commit cycle synchronously. The
// battle loop uses it to pace half-moves.
func (sc *Scheduler) EngineMoveCycle(s *Session) error {
	job, ok := s.TryBeginThinking(true)
	if !ok {
		return ErrEngineBusy
	}
	return sc.runJob(s, job)
}

// runJob performs the search outside any session lock and commits the
// answer. The thinking slot is released on every path.
func (sc *Scheduler) runJob(s *Session, job EngineJob) error {
	defer s.EndThinking()

	if err := job.Engine.SetSkill(job.Skill); err != nil {
		sc.logger.Warn("skill reconfigure failed",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), job.Budget+jobGrace)
	defer cancel()

	started := time.Now()
	mv, err := job.Engine.BestMove(ctx, job.FEN, job.Budget)
	if err != nil {
		sc.logger.Warn("engine search failed",
			zap.String("session_id", s.ID),
			zap.Duration("budget", job.Budget),
			zap.Error(err),
		)
		return err
	}

	if err := s.CommitEngineMove(job.Gen, mv); err != nil {
		sc.logger.Warn("engine move discarded",
			zap.String("session_id", s.ID),
			zap.String("uci", mv),
			zap.Error(err),
		)
		return err
	}

	sc.logger.Debug("engine move committed",
		zap.String("session_id", s.ID),
		zap.String("uci", mv),
		zap.Duration("elapsed", time.Since(started)),
	)

	if sc.store != nil {
		sc.store.MaybeArchive(context.Background(), s)
	}
	return nil
}
