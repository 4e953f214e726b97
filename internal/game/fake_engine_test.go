package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeEngine is a scripted EngineClient for tests. It pops moves off its
// script and tracks how many searches overlap.
type fakeEngine struct {
	mu     sync.Mutex
	script []string
	idx    int

	block chan struct{} // when set, BestMove waits on it

	closed    atomic.Bool
	active    atomic.Int32
	maxActive atomic.Int32
	searches  atomic.Int32
}

func scriptedEngine(moves ...string) *fakeEngine {
	return &fakeEngine{script: moves}
}

func (f *fakeEngine) BestMove(ctx context.Context, fen string, budget time.Duration) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.maxActive.Load()
		if n <= peak || f.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	f.searches.Add(1)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.script) {
		return "", errors.New("script exhausted")
	}
	mv := f.script[f.idx]
	f.idx++
	return mv, nil
}

func (f *fakeEngine) SetSkill(level int) error { return nil }

func (f *fakeEngine) Ready() bool { return !f.closed.Load() }

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func fakeFactory(white, black *fakeEngine) BindingFactory {
	return func(ctx context.Context) (*Binding, error) {
		return &Binding{White: white, Black: black}, nil
	}
}

func failingFactory() BindingFactory {
	return func(ctx context.Context) (*Binding, error) {
		return nil, errors.New("no engine binary")
	}
}

func testDefaults() Settings {
	return Settings{SkillLevel: 10, TimeBudget: 500 * time.Millisecond}
}
