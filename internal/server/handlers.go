package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castlebridge/chessweb/internal/game"
	"github.com/castlebridge/chessweb/internal/render"
	"github.com/castlebridge/chessweb/internal/rules"
)

func (s *Server) handleGameState(c *gin.Context) {
	c.JSON(http.StatusOK, okState(s.session(c)))
}

type moveRequest struct {
	From      []int  `json:"from"`
	To        []int  `json:"to"`
	Promotion string `json:"promotion"`
}

func (s *Server) handleMove(c *gin.Context) {
	sess := s.session(c)

	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, "invalid request body"))
		return
	}
	from, okFrom := squareFromPair(req.From)
	to, okTo := squareFromPair(req.To)
	if !okFrom || !okTo {
		c.JSON(http.StatusBadRequest, failState(sess, "squares must be [file, rank] pairs in 0-7"))
		return
	}
	m := rules.Move{From: from, To: to, Promotion: strings.ToLower(strings.TrimSpace(req.Promotion))}

	if err := sess.ApplyHumanMove(m); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, game.ErrEngineBusy) || errors.Is(err, game.ErrBattleActive) {
			status = http.StatusConflict
		}
		c.JSON(status, failState(sess, err.Error()))
		return
	}

	s.store.MaybeArchive(c.Request.Context(), sess)
	s.sched.MoveApplied(sess)
	c.JSON(http.StatusOK, okState(sess))
}

type selectRequest struct {
	Square []int `json:"square"`
}

func (s *Server) handleSelectSquare(c *gin.Context) {
	sess := s.session(c)

	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, "invalid request body"))
		return
	}
	sq, ok := squareFromPair(req.Square)
	if !ok {
		c.JSON(http.StatusBadRequest, failState(sess, "square must be a [file, rank] pair in 0-7"))
		return
	}
	if !sess.SelectSquare(sq) {
		c.JSON(http.StatusConflict, failState(sess, "selection unavailable while engines play"))
		return
	}
	c.JSON(http.StatusOK, okState(sess))
}

func (s *Server) handleEngineMove(c *gin.Context) {
	sess := s.session(c)
	if !s.sched.RequestEngineMove(sess) {
		c.JSON(http.StatusConflict, failState(sess, "engine unavailable or already thinking"))
		return
	}
	c.JSON(http.StatusOK, okState(sess))
}

func (s *Server) handleNewGame(c *gin.Context) {
	sess := s.session(c)
	sess.NewGame()
	c.JSON(http.StatusOK, okState(sess))
}

func (s *Server) handleUndoMove(c *gin.Context) {
	sess := s.session(c)
	if err := sess.Undo(); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, err.Error()))
		return
	}
	c.JSON(http.StatusOK, okState(sess))
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetGameMode(c *gin.Context) {
	sess := s.session(c)

	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, "invalid request body"))
		return
	}
	mode, err := game.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, err.Error()))
		return
	}
	sess.SetMode(mode)
	c.JSON(http.StatusOK, okState(sess))
}

type settingsRequest struct {
	TimeLimit  *float64 `json:"time_limit"`
	SkillLevel *int     `json:"skill_level"`
}

func (s *Server) handleSetEngineSettings(c *gin.Context) {
	sess := s.session(c)

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, "invalid request body"))
		return
	}
	var budget *time.Duration
	if req.TimeLimit != nil {
		d := time.Duration(*req.TimeLimit * float64(time.Second))
		budget = &d
	}
	if err := sess.SetEngineSettings(budget, req.SkillLevel); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, err.Error()))
		return
	}
	c.JSON(http.StatusOK, okState(sess))
}

func (s *Server) handleToggleBattle(c *gin.Context) {
	sess := s.session(c)
	if _, err := s.battle.Toggle(sess); err != nil {
		c.JSON(http.StatusConflict, failState(sess, err.Error()))
		return
	}
	c.JSON(http.StatusOK, okState(sess))
}

func (s *Server) handleSaveGame(c *gin.Context) {
	sess := s.session(c)
	c.Header("Content-Disposition", `attachment; filename="game.txt"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(sess.ExportText()))
}

type loadRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleLoadGame(c *gin.Context) {
	sess := s.session(c)

	var text string
	if strings.Contains(c.ContentType(), "json") {
		var req loadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, failState(sess, "invalid request body"))
			return
		}
		text = req.Data
	} else {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, failState(sess, "could not read body"))
			return
		}
		text = string(raw)
	}

	if err := sess.Import(strings.NewReader(text)); err != nil {
		// moves before the bad token stay applied; the snapshot shows them
		c.JSON(http.StatusBadRequest, failState(sess, err.Error()))
		return
	}
	s.store.MaybeArchive(c.Request.Context(), sess)
	c.JSON(http.StatusOK, okState(sess))
}

func (s *Server) handleGetFEN(c *gin.Context) {
	sess := s.session(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "fen": sess.FEN()})
}

type positionRequest struct {
	FEN string `json:"fen"`
}

func (s *Server) handleSetPosition(c *gin.Context) {
	sess := s.session(c)

	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, "invalid request body"))
		return
	}
	if err := sess.SetFEN(req.FEN); err != nil {
		c.JSON(http.StatusBadRequest, failState(sess, err.Error()))
		return
	}
	c.JSON(http.StatusOK, okState(sess))
}

func (s *Server) handleHistory(c *gin.Context) {
	sess := s.session(c)

	limit := s.historyLimit
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	records, err := s.store.Recent(c.Request.Context(), sess.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "games": records})
}

func (s *Server) handleBoardPNG(c *gin.Context) {
	sess := s.session(c)

	size := 512
	if q := c.Query("size"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			size = n
		}
	}
	flip := c.Query("flip") == "1" || strings.EqualFold(c.Query("flip"), "true")

	img, err := render.PNG(render.Request{State: sess.Snapshot(), Flipped: flip, Size: size})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", img)
}
