package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/castlebridge/chessweb/internal/archive"
	"github.com/castlebridge/chessweb/internal/game"
)

// stubEngine answers scripted moves, enough to drive the handlers.
type stubEngine struct {
	mu     sync.Mutex
	script []string
	idx    int
}

func (f *stubEngine) BestMove(ctx context.Context, fen string, budget time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.script) {
		return "", errors.New("script exhausted")
	}
	mv := f.script[f.idx]
	f.idx++
	return mv, nil
}

func (f *stubEngine) SetSkill(level int) error { return nil }
func (f *stubEngine) Ready() bool              { return true }
func (f *stubEngine) Close() error             { return nil }

type testClient struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newTestServer(t *testing.T, whiteMoves, blackMoves []string) *testClient {
	t.Helper()
	factory := func(ctx context.Context) (*game.Binding, error) {
		return &game.Binding{
			White: &stubEngine{script: whiteMoves},
			Black: &stubEngine{script: blackMoves},
		}, nil
	}
	defaults := game.Settings{SkillLevel: 10, TimeBudget: 200 * time.Millisecond}
	store := game.NewStore(factory, defaults, archive.NewMemory(), zap.NewNop())
	sched := game.NewScheduler(2, store, zap.NewNop())
	battle := game.NewBattleRunner(sched, zap.NewNop())

	srv := httptest.NewServer(New(store, sched, battle, 20, zap.NewNop()).Handler())
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	t.Cleanup(func() {
		srv.Close()
		battle.StopAll()
		store.CloseAll()
	})
	return &testClient{t: t, srv: srv, client: &http.Client{Jar: jar}}
}

func (tc *testClient) do(method, path string, body any) (int, map[string]any) {
	tc.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			tc.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.srv.URL+path, reader)
	if err != nil {
		tc.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		tc.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	parsed := map[string]any{}
	_ = json.Unmarshal(raw, &parsed)
	return resp.StatusCode, parsed
}

func (tc *testClient) get(path string) (int, map[string]any) {
	return tc.do(http.MethodGet, path, nil)
}

func (tc *testClient) post(path string, body any) (int, map[string]any) {
	return tc.do(http.MethodPost, path, body)
}

func history(body map[string]any) []string {
	raw, _ := body["move_history"].([]any)
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i], _ = v.(string)
	}
	return out
}

func waitForHistory(t *testing.T, tc *testClient, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, body := tc.get("/api/game_state")
		h := history(body)
		if len(h) > 0 && h[len(h)-1] == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for history entry %q", want)
}

func TestGameStateShape(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	code, body := tc.get("/api/game_state")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, key := range []string{"board", "turn", "move_history", "game_over", "engine_thinking",
		"engine_battle_active", "engine_ready", "game_mode", "fen", "player_color"} {
		if _, ok := body[key]; !ok {
			t.Errorf("state lacks %q", key)
		}
	}
	if body["turn"] != "white" || body["game_mode"] != "player_vs_engine" || body["player_color"] != "white" {
		t.Fatalf("initial state = turn %v, mode %v, color %v", body["turn"], body["game_mode"], body["player_color"])
	}

	board, ok := body["board"].([]any)
	if !ok || len(board) != 8 {
		t.Fatalf("board shape: %T len %d", body["board"], len(board))
	}
	rank8, _ := board[0].([]any)
	king, _ := rank8[4].(map[string]any)
	if king == nil || king["piece"] != "k" || king["color"] != "black" {
		t.Fatalf("board[0][4] = %v, want black king", rank8[4])
	}
}

func TestMoveAndEngineReply(t *testing.T) {
	tc := newTestServer(t, nil, []string{"e7e5"})

	code, body := tc.post("/api/move", map[string]any{"from": []int{4, 1}, "to": []int{4, 3}})
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("move: status %d body %v", code, body)
	}
	if h := history(body); len(h) != 1 || h[0] != "1. e4" {
		t.Fatalf("history = %v", h)
	}
	waitForHistory(t, tc, "1. e4 e5")
}

func TestMoveRejections(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	code, body := tc.post("/api/move", map[string]any{"from": []int{4, 1}, "to": []int{4, 5}})
	if code != http.StatusBadRequest || body["success"] != false {
		t.Fatalf("illegal move: status %d body %v", code, body)
	}
	code, _ = tc.post("/api/move", map[string]any{"from": []int{9, 9}, "to": []int{4, 3}})
	if code != http.StatusBadRequest {
		t.Fatalf("bad square: status %d", code)
	}
	code, _ = tc.post("/api/move", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("empty body: status %d", code)
	}
}

func TestSelectSquare(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	code, body := tc.post("/api/select_square", map[string]any{"square": []int{4, 1}})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	sel, _ := body["selected_square"].([]any)
	if len(sel) != 2 || sel[0].(float64) != 4 || sel[1].(float64) != 1 {
		t.Fatalf("selected_square = %v", body["selected_square"])
	}

	// selecting the opponent's piece clears it
	_, body = tc.post("/api/select_square", map[string]any{"square": []int{4, 6}})
	if body["selected_square"] != nil {
		t.Fatalf("selected_square = %v, want null", body["selected_square"])
	}
}

func TestUndoEndpoint(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	code, _ := tc.post("/api/undo_move", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("undo on fresh game: status %d", code)
	}

	tc.post("/api/set_game_mode", map[string]any{"mode": "player_vs_player"})
	tc.post("/api/move", map[string]any{"from": []int{4, 1}, "to": []int{4, 3}})
	code, body := tc.post("/api/undo_move", nil)
	if code != http.StatusOK {
		t.Fatalf("undo: status %d", code)
	}
	if h := history(body); len(h) != 0 {
		t.Fatalf("history after undo = %v", h)
	}
}

func TestSetGameMode(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	code, body := tc.post("/api/set_game_mode", map[string]any{"mode": "player_vs_player"})
	if code != http.StatusOK || body["game_mode"] != "player_vs_player" {
		t.Fatalf("status %d mode %v", code, body["game_mode"])
	}
	code, _ = tc.post("/api/set_game_mode", map[string]any{"mode": "chaos"})
	if code != http.StatusBadRequest {
		t.Fatalf("bad mode: status %d", code)
	}
}

func TestEngineSettingsEndpoint(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	code, _ := tc.post("/api/set_engine_settings", map[string]any{"time_limit": 120.0})
	if code != http.StatusBadRequest {
		t.Fatalf("budget 120: status %d", code)
	}
	code, _ = tc.post("/api/set_engine_settings", map[string]any{"skill_level": 21})
	if code != http.StatusBadRequest {
		t.Fatalf("skill 21: status %d", code)
	}
	code, body := tc.post("/api/set_engine_settings", map[string]any{"time_limit": 1.0, "skill_level": 5})
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("valid settings: status %d body %v", code, body)
	}
}

func TestForcedEngineMove(t *testing.T) {
	tc := newTestServer(t, []string{"d2d4"}, nil)

	code, body := tc.post("/api/engine_move", nil)
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("engine_move: status %d body %v", code, body)
	}
	waitForHistory(t, tc, "1. d4")
}

func TestFENEndpoints(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	const fen = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	code, body := tc.post("/api/set_position", map[string]any{"fen": fen})
	if code != http.StatusOK || body["turn"] != "black" {
		t.Fatalf("set_position: status %d turn %v", code, body["turn"])
	}

	code, body = tc.get("/api/get_fen")
	if code != http.StatusOK {
		t.Fatalf("get_fen: status %d", code)
	}
	if got, _ := body["fen"].(string); got != fen {
		t.Fatalf("fen = %q, want %q", got, fen)
	}

	code, _ = tc.post("/api/set_position", map[string]any{"fen": "garbage"})
	if code != http.StatusBadRequest {
		t.Fatalf("garbage fen: status %d", code)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tc := newTestServer(t, nil, nil)
	tc.post("/api/set_game_mode", map[string]any{"mode": "player_vs_player"})
	tc.post("/api/move", map[string]any{"from": []int{4, 1}, "to": []int{4, 3}})
	tc.post("/api/move", map[string]any{"from": []int{4, 6}, "to": []int{4, 4}})

	resp, err := tc.client.Get(tc.srv.URL + "/api/save_game")
	if err != nil {
		t.Fatalf("save_game: %v", err)
	}
	saved, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(saved), "e2e4\ne7e5") {
		t.Fatalf("export body:\n%s", saved)
	}

	tc.post("/api/new_game", nil)
	code, body := tc.post("/api/load_game", map[string]any{"data": string(saved)})
	if code != http.StatusOK {
		t.Fatalf("load_game: status %d body %v", code, body)
	}
	if h := history(body); len(h) != 1 || h[0] != "1. e4 e5" {
		t.Fatalf("history after load = %v", h)
	}
}

func TestLoadGamePartialReplay(t *testing.T) {
	tc := newTestServer(t, nil, nil)
	tc.post("/api/set_game_mode", map[string]any{"mode": "player_vs_player"})

	code, body := tc.post("/api/load_game", map[string]any{"data": "e2e4\ne7e5\na1a8\n"})
	if code != http.StatusBadRequest || body["success"] != false {
		t.Fatalf("load with bad token: status %d body %v", code, body)
	}
	errMsg, _ := body["error"].(string)
	if !strings.Contains(errMsg, "a1a8") {
		t.Fatalf("error does not name the token: %q", errMsg)
	}
	if h := history(body); len(h) != 1 || h[0] != "1. e4 e5" {
		t.Fatalf("partial replay history = %v", h)
	}
}

func TestBoardPNGEndpoint(t *testing.T) {
	tc := newTestServer(t, nil, nil)

	resp, err := tc.client.Get(tc.srv.URL + "/api/board.png?size=128")
	if err != nil {
		t.Fatalf("board.png: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) < 8 || !bytes.HasPrefix(raw, []byte("\x89PNG")) {
		t.Fatal("body is not a PNG")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	tc := newTestServer(t, nil, nil)
	tc.post("/api/set_game_mode", map[string]any{"mode": "player_vs_player"})
	for _, mv := range [][2][]int{
		{{5, 1}, {5, 2}}, {{4, 6}, {4, 4}}, {{6, 1}, {6, 3}}, {{3, 7}, {7, 3}},
	} {
		code, body := tc.post("/api/move", map[string]any{"from": mv[0], "to": mv[1]})
		if code != http.StatusOK {
			t.Fatalf("move %v: status %d body %v", mv, code, body)
		}
	}

	code, body := tc.get("/api/history")
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("history: status %d body %v", code, body)
	}
	games, _ := body["games"].([]any)
	if len(games) != 1 {
		t.Fatalf("archived games = %d, want 1", len(games))
	}
	rec, _ := games[0].(map[string]any)
	if rec["result"] != "0-1" {
		t.Fatalf("archived result = %v", rec["result"])
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	tc := newTestServer(t, nil, nil)
	tc.post("/api/set_game_mode", map[string]any{"mode": "player_vs_player"})
	tc.post("/api/move", map[string]any{"from": []int{4, 1}, "to": []int{4, 3}})

	// a client with no cookie jar state gets a fresh session
	other := &testClient{t: t, srv: tc.srv, client: &http.Client{Jar: mustJar(t)}}
	_, body := other.get("/api/game_state")
	if h := history(body); len(h) != 0 {
		t.Fatalf("fresh session sees moves: %v", h)
	}
}

func mustJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return jar
}

func TestHealthRoot(t *testing.T) {
	tc := newTestServer(t, nil, nil)
	code, body := tc.get("/")
	if code != http.StatusOK || body["service"] != "chessweb" {
		t.Fatalf("root: status %d body %v", code, body)
	}
}
