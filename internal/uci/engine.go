// Package uci manages one external UCI engine subprocess and exposes a
// time-bounded best-move request over its line protocol.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	handshakeTimeout = 4 * time.Second
	// Extra time past the caller's budget before the search is declared
	// faulted instead of slow.
	searchGrace = 2 * time.Second

	lineBuffer = 256
)

var (
	ErrNotRunning = errors.New("engine process not running")
	ErrNoMove     = errors.New("engine returned no move")
	ErrTimeout    = errors.New("engine search timed out")
)

// Options are the tunables forwarded to the subprocess via setoption.
type Options struct {
	SkillLevel int
	HashMB     int
	Threads    int
}

func (o Options) validate() error {
	if o.SkillLevel < 0 || o.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", o.SkillLevel)
	}
	if o.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", o.HashMB)
	}
	return nil
}

// Engine owns a single engine subprocess. One Engine serves one color slot
// of one game session; it is never shared across sessions.
//
// A single goroutine owns the stdout pipe and feeds lines into a channel,
// so an abandoned (timed-out) search never races a later one on the
// reader.
type Engine struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines   chan string
	readErr error
	errMu   sync.Mutex

	mu     sync.Mutex // guards stdin writes and close
	search sync.Mutex // one search at a time

	optMu   sync.Mutex
	applied Options

	// stale marks that the previous search was abandoned mid-flight; the
	// next search must resync the line stream first. Guarded by search.
	stale bool

	closed bool
}

// Start launches the subprocess at binaryPath and runs the uci/isready
// handshake with the initial options applied.
func Start(ctx context.Context, binaryPath string, opt Options) (*Engine, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &Engine{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, lineBuffer),
	}
	go e.readLoop(bufio.NewReader(stdoutPipe))

	if err := e.handshake(ctx, opt); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.applied = opt
	return e, nil
}

// readLoop is the sole reader of the stdout pipe. It closes the line
// channel when the pipe ends (engine exit or kill).
func (e *Engine) readLoop(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			e.lines <- trimmed
		}
		if err != nil {
			e.errMu.Lock()
			e.readErr = err
			e.errMu.Unlock()
			close(e.lines)
			return
		}
	}
}

func (e *Engine) handshake(ctx context.Context, opt Options) error {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := e.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.awaitToken(hsCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	if err := e.sendOptions(opt); err != nil {
		return err
	}
	if err := e.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(hsCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// Configure re-sends setoption commands when the requested options differ
// from the last applied set.
func (e *Engine) Configure(opt Options) error {
	if err := opt.validate(); err != nil {
		return err
	}
	e.optMu.Lock()
	defer e.optMu.Unlock()
	if opt == e.applied {
		return nil
	}
	if err := e.sendOptions(opt); err != nil {
		return err
	}
	e.applied = opt
	return nil
}

// SetSkill adjusts only the skill level, keeping the other applied
// options as they are.
func (e *Engine) SetSkill(level int) error {
	e.optMu.Lock()
	cur := e.applied
	e.optMu.Unlock()
	cur.SkillLevel = level
	return e.Configure(cur)
}

func (e *Engine) sendOptions(opt Options) error {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
		"setoption name Move Overhead value 100\n",
	}
	for _, cmd := range cmds {
		if err := e.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

// BestMove asks the subprocess for the best move in the position given by
// fen, searching for at most budget. The call blocks until a bestmove line
// arrives or budget plus a bounded grace period elapses; it never hangs
// past that.
func (e *Engine) BestMove(ctx context.Context, fen string, budget time.Duration) (string, error) {
	if budget <= 0 {
		return "", fmt.Errorf("non-positive search budget %v", budget)
	}

	e.search.Lock()
	defer e.search.Unlock()

	if !e.running() {
		return "", ErrNotRunning
	}

	if e.stale {
		if err := e.resync(ctx); err != nil {
			return "", fmt.Errorf("resync after aborted search: %w", err)
		}
		e.stale = false
	}
	e.drainPending()

	if err := e.send(positionCommand(fen)); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	goCmd := "go movetime " + strconv.FormatInt(budget.Milliseconds(), 10) + "\n"
	if err := e.send(goCmd); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, budget+searchGrace)
	defer cancel()

	for {
		line, err := e.readLine(searchCtx)
		if err != nil {
			// the subprocess may still emit the answer later
			e.stale = true
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", fmt.Errorf("read line: %w", err)
		}
		if !strings.HasPrefix(line, "bestmove") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 || parts[1] == "(none)" {
			return "", ErrNoMove
		}
		return strings.ToLower(parts[1]), nil
	}
}

// resync flushes an abandoned search: stop forces the subprocess to emit
// its overdue bestmove promptly, and readyok then marks the boundary.
// Everything up to readyok (the stale bestmove included) is discarded.
func (e *Engine) resync(ctx context.Context) error {
	if err := e.send("stop\n"); err != nil {
		return err
	}
	if err := e.send("isready\n"); err != nil {
		return err
	}
	rCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	return e.awaitToken(rCtx, "readyok")
}

// drainPending discards buffered lines left over from earlier traffic.
func (e *Engine) drainPending() {
	for {
		select {
		case _, ok := <-e.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func positionCommand(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

// Ready reports whether the subprocess is alive.
func (e *Engine) Ready() bool {
	return e.running()
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.cmd != nil && e.cmd.Process != nil
}

// Close kills the subprocess. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.stdin != nil {
		_, _ = io.WriteString(e.stdin, "quit\n")
		e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	if e.cmd != nil {
		return e.cmd.Wait()
	}
	return nil
}

func (e *Engine) send(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrNotRunning
	}
	_, err := io.WriteString(e.stdin, msg)
	return err
}

func (e *Engine) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *Engine) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-e.lines:
		if !ok {
			e.errMu.Lock()
			err := e.readErr
			e.errMu.Unlock()
			if err == nil || errors.Is(err, io.EOF) {
				return "", ErrNotRunning
			}
			return "", err
		}
		return line, nil
	}
}
