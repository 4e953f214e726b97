// Package game owns per-session chess state and the coordination around
// it: turn arbitration across play modes, asynchronous engine-move
// dispatch, and the engine-vs-engine battle loop. Chess legality and move
// search are delegated to the rules and uci packages.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castlebridge/chessweb/internal/archive"
	"github.com/castlebridge/chessweb/internal/rules"
)

var (
	ErrIllegalMove       = errors.New("illegal move")
	ErrNothingToUndo     = errors.New("no moves to undo")
	ErrEngineUnavailable = errors.New("engine not available")
	ErrEngineBusy        = errors.New("engine move already in flight")
	ErrBattleActive      = errors.New("battle in progress")
	ErrGameOver          = errors.New("game is over")
	ErrSettingOutOfRange = errors.New("engine setting out of range")
	ErrStaleEngineMove   = errors.New("engine move arrived for a superseded position")
)

// Mode selects who moves for each color.
type Mode int

const (
	PlayerVsEngine Mode = iota
	PlayerVsPlayer
	EngineVsEngine
)

func (m Mode) String() string {
	switch m {
	case PlayerVsPlayer:
		return "player_vs_player"
	case EngineVsEngine:
		return "engine_vs_engine"
	default:
		return "player_vs_engine"
	}
}

// RequiresEngine reports whether the mode needs engine subprocesses.
func (m Mode) RequiresEngine() bool {
	return m != PlayerVsPlayer
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "player_vs_engine":
		return PlayerVsEngine, nil
	case "player_vs_player":
		return PlayerVsPlayer, nil
	case "engine_vs_engine":
		return EngineVsEngine, nil
	}
	return PlayerVsEngine, fmt.Errorf("unknown game mode %q", s)
}

// MoveRecord is one resolved half-move, immutable once appended.
type MoveRecord struct {
	From      rules.Square
	To        rules.Square
	Promotion string
	SAN       string
	UCI       string
}

// LastMove is the most recent (from, to) pair, kept for UI highlighting.
type LastMove struct {
	From rules.Square `json:"from"`
	To   rules.Square `json:"to"`
}

// EngineClient is the contract one engine subprocess slot satisfies.
// *uci.Engine implements it.
type EngineClient interface {
	BestMove(ctx context.Context, fen string, budget time.Duration) (string, error)
	SetSkill(level int) error
	Ready() bool
	Close() error
}

// Binding holds the two per-color engine slots owned by one session.
type Binding struct {
	White EngineClient
	Black EngineClient
}

func (b *Binding) ForColor(c rules.Color) EngineClient {
	if b == nil {
		return nil
	}
	if c == rules.Black {
		return b.Black
	}
	return b.White
}

func (b *Binding) Ready() bool {
	return b != nil && b.White != nil && b.Black != nil && b.White.Ready() && b.Black.Ready()
}

func (b *Binding) Close() {
	if b == nil {
		return
	}
	if b.White != nil {
		_ = b.White.Close()
	}
	if b.Black != nil {
		_ = b.Black.Close()
	}
}

// BindingFactory creates the engine pair for a session. It is resolved
// once at startup from configuration and injected.
type BindingFactory func(ctx context.Context) (*Binding, error)

// Settings are the per-session engine tunables and their defaults.
type Settings struct {
	SkillLevel int
	TimeBudget time.Duration
}

const (
	minTimeBudget = 100 * time.Millisecond // exclusive
	maxTimeBudget = 60 * time.Second       // inclusive
)

// Session is one chess game's authoritative mutable state. Every state
// mutation and snapshot runs under mu; engine searches never do.
type Session struct {
	ID string

	mu sync.Mutex

	pos     *rules.Position
	baseFEN string // "" means the standard starting position
	moveLog []MoveRecord
	display []string // white/black paired entries, e.g. "1. e4 e5"

	mode        Mode
	playerColor rules.Color
	selection   *rules.Square
	lastMove    *LastMove

	engineThinking bool
	battleActive   bool

	settings Settings

	engines     *Binding
	engineReady bool
	factory     BindingFactory

	// gen invalidates in-flight engine computations whenever the position
	// is replaced rather than advanced (new game, undo, FEN load, import).
	gen uint64

	startedAt time.Time
	archived  bool

	logger *zap.Logger
}

func newSession(id string, factory BindingFactory, defaults Settings, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		ID:          id,
		pos:         rules.Starting(),
		mode:        PlayerVsEngine,
		playerColor: rules.White,
		settings:    defaults,
		factory:     factory,
		startedAt:   time.Now(),
		logger:      logger,
	}
	s.initEnginesLocked()
	return s
}

// initEnginesLocked attempts to start both engine slots. Failure degrades
// the session to engine-not-ready; it never prevents session creation.
func (s *Session) initEnginesLocked() {
	if s.engineReady || s.factory == nil {
		return
	}
	binding, err := s.factory(context.Background())
	if err != nil {
		s.engineReady = false
		s.logger.Warn("engine initialization failed",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
		return
	}
	s.engines = binding
	s.engineReady = binding.Ready()
}

// ApplyMove validates and commits one half-move. Illegal or malformed
// moves leave the session unchanged and report false.
func (s *Session) ApplyMove(m rules.Move) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyMoveLocked(m)
}

// ApplyHumanMove commits a move on the player's behalf. It is refused
// while an engine computation or a battle owns the position.
func (s *Session) ApplyHumanMove(m rules.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engineThinking {
		return ErrEngineBusy
	}
	if s.battleActive {
		return ErrBattleActive
	}
	if !s.applyMoveLocked(m) {
		return ErrIllegalMove
	}
	return nil
}

func (s *Session) applyMoveLocked(m rules.Move) bool {
	mover := s.pos.SideToMove()
	next, san, err := s.pos.Apply(m)
	if err != nil {
		s.logger.Debug("move rejected",
			zap.String("session_id", s.ID),
			zap.String("uci", m.UCI()),
			zap.Error(err),
		)
		return false
	}
	s.pos = next
	s.moveLog = append(s.moveLog, MoveRecord{
		From:      m.From,
		To:        m.To,
		Promotion: m.Promotion,
		SAN:       san,
		UCI:       m.UCI(),
	})
	s.appendDisplayLocked(mover, san)
	s.lastMove = &LastMove{From: m.From, To: m.To}
	s.selection = nil
	s.logger.Info("move applied",
		zap.String("session_id", s.ID),
		zap.String("san", san),
		zap.String("uci", m.UCI()),
	)
	return true
}

// appendDisplayLocked maintains the paired move log: a white half-move
// opens a numbered pair, black's completes it. A black half-move with no
// open pair (position loaded with black to move) gets the "N... san"
// solitary form so undo can tell the formats apart.
func (s *Session) appendDisplayLocked(mover rules.Color, san string) {
	if mover == rules.White {
		s.display = append(s.display, fmt.Sprintf("%d. %s", len(s.display)+1, san))
		return
	}
	if n := len(s.display); n > 0 {
		if fields := strings.Fields(s.display[n-1]); len(fields) == 2 && !strings.HasSuffix(fields[0], "...") {
			s.display[n-1] += " " + san
			return
		}
	}
	s.display = append(s.display, fmt.Sprintf("%d... %s", len(s.display)+1, san))
}

// trimDisplayLocked reverses appendDisplayLocked for one half-move.
func (s *Session) trimDisplayLocked() {
	n := len(s.display)
	if n == 0 {
		return
	}
	fields := strings.Fields(s.display[n-1])
	if len(fields) >= 3 {
		// completed pair: drop black's half, keep the solitary white form
		s.display[n-1] = fields[0] + " " + fields[1]
		return
	}
	s.display = s.display[:n-1]
}

// Undo removes the most recent half-move by replaying the log from the
// base position.
func (s *Session) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.moveLog) == 0 {
		return ErrNothingToUndo
	}

	base, err := s.basePositionLocked()
	if err != nil {
		return err
	}
	trimmed := s.moveLog[:len(s.moveLog)-1]
	pos := base
	for _, rec := range trimmed {
		next, _, err := pos.Apply(rules.Move{From: rec.From, To: rec.To, Promotion: rec.Promotion})
		if err != nil {
			return fmt.Errorf("replay %s: %w", rec.UCI, err)
		}
		pos = next
	}

	s.pos = pos
	s.moveLog = append([]MoveRecord(nil), trimmed...)
	s.trimDisplayLocked()
	s.selection = nil
	s.lastMove = nil
	s.archived = false
	s.gen++
	return nil
}

func (s *Session) basePositionLocked() (*rules.Position, error) {
	if s.baseFEN == "" {
		return rules.Starting(), nil
	}
	return rules.FromFEN(s.baseFEN)
}

// SelectSquare records or clears the transient UI selection. It reports
// false while an engine computation or battle makes selection meaningless.
func (s *Session) SelectSquare(sq rules.Square) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engineThinking || (s.mode == EngineVsEngine && s.battleActive) {
		return false
	}
	turn := s.pos.SideToMove()
	info, occupied := s.pos.PieceAt(sq)
	ownPiece := occupied && info.Color == turn.String()
	if ownPiece && (s.mode != PlayerVsEngine || turn == s.playerColor) {
		s.selection = &sq
	} else {
		s.selection = nil
	}
	return true
}

// SetMode switches the play mode. Any running battle loop observes the
// cleared flag and stops; engine slots are initialized lazily when the
// new mode needs them.
func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.battleActive = false
	s.selection = nil
	if mode.RequiresEngine() {
		s.initEnginesLocked()
	}
}

// NewGame resets to the standard starting position. Engine subprocesses
// are restarted if they went away.
func (s *Session) NewGame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = rules.Starting()
	s.baseFEN = ""
	s.moveLog = nil
	s.display = nil
	s.selection = nil
	s.lastMove = nil
	s.battleActive = false
	s.archived = false
	s.gen++
	s.initEnginesLocked()
}

// SetFEN replaces the position wholesale. The move log starts over from
// the new base.
func (s *Session) SetFEN(fen string) error {
	pos, err := rules.FromFEN(fen)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	s.baseFEN = fen
	s.moveLog = nil
	s.display = nil
	s.selection = nil
	s.lastMove = nil
	s.archived = false
	s.gen++
	return nil
}

// SetEngineSettings applies the provided tunables, rejecting out-of-range
// values while retaining the prior ones. Budget bound is (0.1s, 60s],
// skill bound is [0, 20].
func (s *Session) SetEngineSettings(budget *time.Duration, skill *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if budget != nil {
		if *budget <= minTimeBudget || *budget > maxTimeBudget {
			return fmt.Errorf("%w: time budget %v", ErrSettingOutOfRange, *budget)
		}
		s.settings.TimeBudget = *budget
	}
	if skill != nil {
		if *skill < 0 || *skill > 20 {
			return fmt.Errorf("%w: skill level %d", ErrSettingOutOfRange, *skill)
		}
		s.settings.SkillLevel = *skill
		if s.engines != nil {
			for _, eng := range []EngineClient{s.engines.White, s.engines.Black} {
				if eng == nil {
					continue
				}
				if err := eng.SetSkill(*skill); err != nil {
					s.logger.Warn("could not reconfigure engine skill",
						zap.String("session_id", s.ID),
						zap.Error(err),
					)
				}
			}
		}
	}
	return nil
}

// ShouldEngineMove reports whether the side to move belongs to an engine.
func (s *Session) ShouldEngineMove() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldEngineMoveLocked()
}

func (s *Session) shouldEngineMoveLocked() bool {
	switch s.mode {
	case PlayerVsPlayer:
		return false
	case EngineVsEngine:
		return true
	default:
		return s.pos.SideToMove() != s.playerColor
	}
}

func (s *Session) GameOver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.GameOver()
}

func (s *Session) EngineThinking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineThinking
}

func (s *Session) EngineReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineReady && s.engines.Ready()
}

func (s *Session) BattleActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battleActive
}

// StopBattle requests cooperative termination of a running battle loop.
func (s *Session) StopBattle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battleActive = false
}

// PrepareBattle flips the session into engine-vs-engine battle mode.
func (s *Session) PrepareBattle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.engineReady || !s.engines.Ready() {
		return ErrEngineUnavailable
	}
	if s.pos.GameOver() {
		return ErrGameOver
	}
	s.mode = EngineVsEngine
	s.battleActive = true
	s.selection = nil
	return nil
}

// EngineJob captures everything an engine-move task needs outside the
// session lock.
type EngineJob struct {
	FEN    string
	Budget time.Duration
	Skill  int
	Engine EngineClient
	Gen    uint64
}

// TryBeginThinking atomically claims the single engine-computation slot.
// With force unset the claim also requires that the side to move belongs
// to an engine. On success the caller owns the slot and must release it
// via EndThinking on every exit path.
func (s *Session) TryBeginThinking(force bool) (EngineJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engineThinking || s.pos.GameOver() || !s.engineReady {
		return EngineJob{}, false
	}
	if !force && !s.shouldEngineMoveLocked() {
		return EngineJob{}, false
	}
	eng := s.engines.ForColor(s.pos.SideToMove())
	if eng == nil || !eng.Ready() {
		return EngineJob{}, false
	}
	s.engineThinking = true
	return EngineJob{
		FEN:    s.pos.FEN(),
		Budget: s.settings.TimeBudget,
		Skill:  s.settings.SkillLevel,
		Engine: eng,
		Gen:    s.gen,
	}, true
}

// EndThinking releases the engine-computation slot.
func (s *Session) EndThinking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engineThinking = false
}

// CommitEngineMove validates the subprocess's answer against the current
// position and applies it. A generation mismatch means the position was
// replaced while the search ran; the move is discarded.
func (s *Session) CommitEngineMove(gen uint64, uciMove string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return ErrStaleEngineMove
	}
	m, err := rules.ParseUCI(uciMove)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	if !s.applyMoveLocked(m) {
		return fmt.Errorf("%w: engine played %s", ErrIllegalMove, uciMove)
	}
	return nil
}

// FinishedRecord returns an archive record exactly once per finished
// game. Subsequent calls (until the position is reset) report false.
func (s *Session) FinishedRecord() (*archive.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.archived || !s.pos.GameOver() {
		return nil, false
	}
	s.archived = true
	now := time.Now()
	movesUCI := make([]string, len(s.moveLog))
	movesSAN := make([]string, len(s.moveLog))
	for i, rec := range s.moveLog {
		movesUCI[i] = rec.UCI
		movesSAN[i] = rec.SAN
	}
	return &archive.Record{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Mode:      s.mode.String(),
		Result:    s.pos.Result(),
		Method:    s.pos.Method(),
		MovesUCI:  movesUCI,
		MovesSAN:  movesSAN,
		FEN:       s.pos.FEN(),
		StartedAt: s.startedAt,
		EndedAt:   now,
		Duration:  now.Sub(s.startedAt),
	}, true
}

// Close tears down the session's engine subprocesses.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battleActive = false
	s.engines.Close()
	s.engines = nil
	s.engineReady = false
}

// State is the full snapshot returned by every mutating call.
type State struct {
	Board          [8][8]*rules.PieceInfo
	Turn           string
	MoveHistory    []string
	Selection      *rules.Square
	LastMove       *LastMove
	GameOver       bool
	Result         string
	EngineThinking bool
	BattleActive   bool
	EngineReady    bool
	Mode           Mode
	FEN            string
	PlayerColor    string
}

// Snapshot reads the whole state under the lock so callers never observe
// a torn update.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Board:          s.pos.Grid(),
		Turn:           s.pos.SideToMove().String(),
		MoveHistory:    append([]string(nil), s.display...),
		GameOver:       s.pos.GameOver(),
		Result:         s.pos.Result(),
		EngineThinking: s.engineThinking,
		BattleActive:   s.battleActive,
		EngineReady:    s.engineReady && s.engines.Ready(),
		Mode:           s.mode,
		FEN:            s.pos.FEN(),
		PlayerColor:    s.playerColor.String(),
	}
	if s.selection != nil {
		sel := *s.selection
		st.Selection = &sel
	}
	if s.lastMove != nil {
		lm := *s.lastMove
		st.LastMove = &lm
	}
	return st
}

// FEN returns the current position's FEN under the lock.
func (s *Session) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.FEN()
}
