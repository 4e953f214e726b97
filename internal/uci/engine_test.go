package uci

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// fakeEngineScript speaks just enough UCI for the handshake and a search.
const fakeEngineScript = `#!/bin/sh
while read line; do
  case "$line" in
    uci*) echo "id name fakefish"; echo "uciok" ;;
    isready*) echo "readyok" ;;
    go*) echo "info depth 1 score cp 10"; echo "bestmove e2e4" ;;
    quit*) exit 0 ;;
  esac
done
`

const silentEngineScript = `#!/bin/sh
while read line; do
  case "$line" in
    uci*) echo "uciok" ;;
    isready*) echo "readyok" ;;
    quit*) exit 0 ;;
  esac
done
`

// slowFirstSearchScript answers its first go only when told to stop; every
// later go answers immediately.
const slowFirstSearchScript = `#!/bin/sh
first=1
while read line; do
  case "$line" in
    uci*) echo "uciok" ;;
    isready*) echo "readyok" ;;
    stop*) echo "bestmove a2a3" ;;
    go*)
      if [ "$first" = "1" ]; then
        first=0
      else
        echo "bestmove e2e4"
      fi ;;
    quit*) exit 0 ;;
  esac
done
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fake engine needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fakefish")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func defaultOptions() Options {
	return Options{SkillLevel: 10, HashMB: 16, Threads: 1}
}

func TestStartAndBestMove(t *testing.T) {
	path := writeScript(t, fakeEngineScript)

	eng, err := Start(context.Background(), path, defaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Close()

	if !eng.Ready() {
		t.Fatal("engine not ready after handshake")
	}

	mv, err := eng.BestMove(context.Background(), "startpos", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("BestMove: %v", err)
	}
	if mv != "e2e4" {
		t.Fatalf("best move = %q, want e2e4", mv)
	}
}

func TestBestMoveTimeout(t *testing.T) {
	path := writeScript(t, silentEngineScript)

	eng, err := Start(context.Background(), path, defaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Close()

	_, err = eng.BestMove(context.Background(), "startpos", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("silent engine: got %v, want ErrTimeout", err)
	}
}

func TestBestMoveAfterTimeout(t *testing.T) {
	path := writeScript(t, slowFirstSearchScript)

	eng, err := Start(context.Background(), path, defaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Close()

	if _, err := eng.BestMove(context.Background(), "startpos", 50*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first search: got %v, want ErrTimeout", err)
	}

	// the overdue bestmove from the first search must not be taken as
	// the answer to the second one
	mv, err := eng.BestMove(context.Background(), "startpos", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if mv != "e2e4" {
		t.Fatalf("second search move = %q, want e2e4", mv)
	}
}

func TestStartRejectsBadOptions(t *testing.T) {
	path := writeScript(t, fakeEngineScript)
	if _, err := Start(context.Background(), path, Options{SkillLevel: 30, HashMB: 16}); err == nil {
		t.Fatal("Start accepted skill 30")
	}
	if _, err := Start(context.Background(), path, Options{SkillLevel: 5, HashMB: 0}); err == nil {
		t.Fatal("Start accepted zero hash")
	}
}

func TestStartMissingBinary(t *testing.T) {
	if _, err := Start(context.Background(), "/definitely/not/here", defaultOptions()); err == nil {
		t.Fatal("Start succeeded with a missing binary")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := writeScript(t, fakeEngineScript)
	eng, err := Start(context.Background(), path, defaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Logf("first close: %v", err) // process may exit on quit before Wait
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if eng.Ready() {
		t.Fatal("engine still ready after close")
	}
	if _, err := eng.BestMove(context.Background(), "startpos", 50*time.Millisecond); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("search on closed engine: got %v, want ErrNotRunning", err)
	}
}

func TestSetSkill(t *testing.T) {
	path := writeScript(t, fakeEngineScript)
	eng, err := Start(context.Background(), path, defaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Close()

	if err := eng.SetSkill(3); err != nil {
		t.Fatalf("SetSkill: %v", err)
	}
	if err := eng.SetSkill(3); err != nil { // no-op resend
		t.Fatalf("repeat SetSkill: %v", err)
	}
	if err := eng.SetSkill(25); err == nil {
		t.Fatal("SetSkill accepted 25")
	}
}
