package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsPushInterval = 500 * time.Millisecond

// handleWS streams state snapshots over a websocket. A snapshot is sent
// on connect and then on every interval tick where the state changed,
// so clients tracking a battle never poll. Served as a plain net/http
// handler: the upgrade hijacks the connection, which gin's response
// writer does not allow.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionHTTP(w, r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin enforcement left to the deployment proxy
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := r.Context()

	push := func() error {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return wsjson.Write(writeCtx, conn, okState(sess))
	}

	if err := push(); err != nil {
		return
	}

	lastFEN := sess.FEN()
	lastThinking := sess.EngineThinking()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fen := sess.FEN()
			thinking := sess.EngineThinking()
			if fen == lastFEN && thinking == lastThinking {
				continue
			}
			lastFEN, lastThinking = fen, thinking
			if err := push(); err != nil {
				return
			}
		}
	}
}
