// Package server exposes the game sessions over HTTP. Every mutating
// endpoint answers with a full state snapshot so clients never merge
// partial updates.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castlebridge/chessweb/internal/game"
)

const sessionCookie = "chessweb_session"

type Server struct {
	store        *game.Store
	sched        *game.Scheduler
	battle       *game.BattleRunner
	historyLimit int
	logger       *zap.Logger
}

func New(store *game.Store, sched *game.Scheduler, battle *game.BattleRunner, historyLimit int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Server{
		store:        store,
		sched:        sched,
		battle:       battle,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Handler builds the routed handler. The websocket route bypasses gin:
// the upgrade needs the raw http.ResponseWriter for hijacking, which
// gin's wrapping writer refuses once the engine has touched it.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/", s.handleRoot)
	r.GET("/healthz", s.handleRoot)

	api := r.Group("/api")
	{
		api.GET("/game_state", s.handleGameState)
		api.POST("/move", s.handleMove)
		api.POST("/select_square", s.handleSelectSquare)
		api.POST("/engine_move", s.handleEngineMove)
		api.POST("/new_game", s.handleNewGame)
		api.POST("/undo_move", s.handleUndoMove)
		api.POST("/set_game_mode", s.handleSetGameMode)
		api.POST("/set_engine_settings", s.handleSetEngineSettings)
		api.POST("/toggle_engine_battle", s.handleToggleBattle)
		api.GET("/save_game", s.handleSaveGame)
		api.POST("/load_game", s.handleLoadGame)
		api.GET("/get_fen", s.handleGetFEN)
		api.POST("/set_position", s.handleSetPosition)
		api.GET("/history", s.handleHistory)
		api.GET("/board.png", s.handleBoardPNG)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws", s.handleWS)
	mux.Handle("/", r)
	return mux
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "chessweb",
		"status":   "ok",
		"sessions": s.store.Len(),
	})
}

// session resolves the caller's session from the cookie, minting a new
// id on first contact.
func (s *Server) session(c *gin.Context) *game.Session {
	id, err := c.Cookie(sessionCookie)
	if err != nil || uuid.Validate(id) != nil {
		id = uuid.NewString()
		c.SetCookie(sessionCookie, id, 0, "/", "", false, true)
	}
	return s.store.Get(id)
}

// sessionHTTP is session for routes served off gin. The cookie header
// must be set before the websocket handshake writes the response.
func (s *Server) sessionHTTP(w http.ResponseWriter, r *http.Request) *game.Session {
	var id string
	if ck, err := r.Cookie(sessionCookie); err == nil {
		id = ck.Value
	}
	if uuid.Validate(id) != nil {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
		})
	}
	return s.store.Get(id)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
