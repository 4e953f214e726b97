package server

import (
	"github.com/castlebridge/chessweb/internal/game"
	"github.com/castlebridge/chessweb/internal/rules"
)

// stateDTO is the wire shape of a state snapshot. The board is rank-major
// with rank 8 first; empty squares are null. Squares travel as
// [file, rank] pairs with both in 0-7.
type stateDTO struct {
	Board              [8][8]*rules.PieceInfo `json:"board"`
	Turn               string                 `json:"turn"`
	MoveHistory        []string               `json:"move_history"`
	SelectedSquare     []int                  `json:"selected_square"`
	LastMove           *lastMoveDTO           `json:"last_move"`
	GameOver           bool                   `json:"game_over"`
	Result             string                 `json:"result"`
	EngineThinking     bool                   `json:"engine_thinking"`
	EngineBattleActive bool                   `json:"engine_battle_active"`
	EngineReady        bool                   `json:"engine_ready"`
	GameMode           string                 `json:"game_mode"`
	FEN                string                 `json:"fen"`
	PlayerColor        string                 `json:"player_color"`
}

type lastMoveDTO struct {
	From [2]int `json:"from"`
	To   [2]int `json:"to"`
}

type stateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	stateDTO
}

func toDTO(st game.State) stateDTO {
	dto := stateDTO{
		Board:              st.Board,
		Turn:               st.Turn,
		MoveHistory:        st.MoveHistory,
		GameOver:           st.GameOver,
		Result:             st.Result,
		EngineThinking:     st.EngineThinking,
		EngineBattleActive: st.BattleActive,
		EngineReady:        st.EngineReady,
		GameMode:           st.Mode.String(),
		FEN:                st.FEN,
		PlayerColor:        st.PlayerColor,
	}
	if dto.MoveHistory == nil {
		dto.MoveHistory = []string{}
	}
	if st.Selection != nil {
		dto.SelectedSquare = []int{st.Selection.File, st.Selection.Rank}
	}
	if st.LastMove != nil {
		dto.LastMove = &lastMoveDTO{
			From: [2]int{st.LastMove.From.File, st.LastMove.From.Rank},
			To:   [2]int{st.LastMove.To.File, st.LastMove.To.Rank},
		}
	}
	return dto
}

func okState(sess *game.Session) stateResponse {
	return stateResponse{Success: true, stateDTO: toDTO(sess.Snapshot())}
}

func failState(sess *game.Session, msg string) stateResponse {
	return stateResponse{Success: false, Error: msg, stateDTO: toDTO(sess.Snapshot())}
}

// squareFromPair converts a [file, rank] request pair.
func squareFromPair(pair []int) (rules.Square, bool) {
	if len(pair) != 2 {
		return rules.Square{}, false
	}
	sq := rules.Square{File: pair[0], Rank: pair[1]}
	return sq, sq.Valid()
}
