// chesscheck probes a running chessweb server: it fetches the state,
// starts a fresh game, plays one move, and optionally watches the
// websocket stream for the first pushed snapshot.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const sessionCookie = "chessweb_session"

type probe struct {
	base    string
	client  *fasthttp.Client
	session string
}

func main() {
	base := flag.String("base", "http://127.0.0.1:5000", "server base URL")
	watchWS := flag.Bool("ws", false, "also dial the websocket stream")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	flag.Parse()

	p := &probe{
		base: *base,
		client: &fasthttp.Client{
			ReadTimeout:  *timeout,
			WriteTimeout: *timeout,
		},
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"game_state", func() error { return p.getJSON("/api/game_state") }},
		{"new_game", func() error { return p.postJSON("/api/new_game", nil) }},
		{"move e2e4", func() error {
			return p.postJSON("/api/move", map[string]any{
				"from": []int{4, 1}, "to": []int{4, 3},
			})
		}},
	}

	failed := false
	for _, step := range steps {
		if err := step.run(); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %-12s %v\n", step.name, err)
			failed = true
			continue
		}
		fmt.Printf("ok   %s\n", step.name)
	}

	if *watchWS && !failed {
		if err := p.watchWebsocket(*timeout); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL websocket    %v\n", err)
			failed = true
		} else {
			fmt.Println("ok   websocket")
		}
	}

	if failed {
		os.Exit(1)
	}
}

func (p *probe) getJSON(path string) error {
	return p.do(fasthttp.MethodGet, path, nil)
}

func (p *probe) postJSON(path string, body any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	return p.do(fasthttp.MethodPost, path, raw)
}

func (p *probe) do(method, path string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.base + path)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	if p.session != "" {
		req.Header.SetCookie(sessionCookie, p.session)
	}

	if err := p.client.Do(req, resp); err != nil {
		return err
	}
	p.captureSession(resp)

	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return fmt.Errorf("%s: status %d: %s", path, code, resp.Body())
	}
	var parsed map[string]any
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return fmt.Errorf("%s: bad json: %w", path, err)
	}
	if ok, present := parsed["success"].(bool); present && !ok {
		return fmt.Errorf("%s: server reported failure: %v", path, parsed["error"])
	}
	return nil
}

func (p *probe) captureSession(resp *fasthttp.Response) {
	ck := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(ck)
	ck.SetKey(sessionCookie)
	if resp.Header.Cookie(ck) && len(ck.Value()) > 0 {
		p.session = string(ck.Value())
	}
}

func (p *probe) watchWebsocket(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	header := http.Header{}
	if p.session != "" {
		header.Set("Cookie", sessionCookie+"="+p.session)
	}
	conn, _, err := websocket.Dial(ctx, p.base+"/api/ws", &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var snapshot map[string]any
	if err := wsjson.Read(ctx, conn, &snapshot); err != nil {
		return fmt.Errorf("first snapshot: %w", err)
	}
	fmt.Printf("     ws snapshot: turn=%v fen=%v\n", snapshot["turn"], snapshot["fen"])
	return nil
}
