package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// Runaway guard: a battle ends after this many half-moves even when
	// the game is not decided.
	maxBattleHalfMoves = 200

	battleMoveDelay = 500 * time.Millisecond
	battleThinkWait = 100 * time.Millisecond
)

// BattleRunner drives engine-vs-engine games, one loop goroutine per
// session. The loop stops cooperatively: on terminal position, on the
// half-move cap, when the session's battle flag is cleared, or when its
// context is cancelled at shutdown.
type BattleRunner struct {
	sched  *Scheduler
	logger *zap.Logger

	mu    sync.Mutex
	loops map[string]*battleLoop
}

type battleLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBattleRunner(sched *Scheduler, logger *zap.Logger) *BattleRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BattleRunner{
		sched:  sched,
		logger: logger,
		loops:  make(map[string]*battleLoop),
	}
}

// Toggle flips the session's battle. Starting requires ready engines and
// a live position; stopping is a request the loop honors at its next
// check, never an interruption of a search already running.
func (br *BattleRunner) Toggle(s *Session) (bool, error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if loop, ok := br.loops[s.ID]; ok {
		s.StopBattle()
		loop.cancel()
		return false, nil
	}

	if err := s.PrepareBattle(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &battleLoop{cancel: cancel, done: make(chan struct{})}
	br.loops[s.ID] = loop
	go br.run(ctx, s, loop)
	br.logger.Info("battle started", zap.String("session_id", s.ID))
	return true, nil
}

// Running reports whether a battle loop is live for the session.
func (br *BattleRunner) Running(sessionID string) bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	_, ok := br.loops[sessionID]
	return ok
}

func (br *BattleRunner) run(ctx context.Context, s *Session, loop *battleLoop) {
	halfMoves := 0
	defer func() {
		s.StopBattle()
		br.mu.Lock()
		delete(br.loops, s.ID)
		br.mu.Unlock()
		close(loop.done)
		br.logger.Info("battle finished",
			zap.String("session_id", s.ID),
			zap.Int("half_moves", halfMoves),
		)
	}()

	for halfMoves < maxBattleHalfMoves {
		if ctx.Err() != nil || !s.BattleActive() || s.GameOver() {
			return
		}
		if s.EngineThinking() {
			// a manual engine-move request may be in flight; wait it out
			if !sleepCtx(ctx, battleThinkWait) {
				return
			}
			continue
		}

		if err := br.sched.EngineMoveCycle(s); err != nil {
			if errors.Is(err, ErrEngineBusy) {
				continue
			}
			br.logger.Warn("battle halted on engine error",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
			return
		}
		halfMoves++

		if !sleepCtx(ctx, battleMoveDelay) {
			return
		}
	}
}

// StopAll cancels every running battle and waits for the loops to exit.
func (br *BattleRunner) StopAll() {
	br.mu.Lock()
	loops := make([]*battleLoop, 0, len(br.loops))
	for _, loop := range br.loops {
		loop.cancel()
		loops = append(loops, loop)
	}
	br.mu.Unlock()
	for _, loop := range loops {
		<-loop.done
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
