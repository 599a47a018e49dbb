package game

import (
	"context"
	"time"
)

// 出站消息类型
const (
	MsgGameStateUpdate = "gameStateUpdate"
	MsgTargetUpdate    = "targetUpdate"
	MsgFeedback        = "feedback"
	MsgHitFeedback     = "hitFeedback"
	MsgError           = "error"
)

// Broadcaster 同步广播器，由传输层实现
//
// 调用在会话goroutine内同步完成，实现不能阻塞也不能回调会话。
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
	SendTo(playerID string, msgType string, payload interface{})
}

// MatchRecorder 对局记录器
type MatchRecorder interface {
	RecordMatch(ctx context.Context, summary *MatchSummary) error
}

// PlayerView allPlayers中的玩家信息
type PlayerView struct {
	Username string       `json:"username"`
	Score    int          `json:"score"`
	Status   PlayerStatus `json:"status"`
}

// PlayerEntry 有序列表中的玩家信息
type PlayerEntry struct {
	ID       string       `json:"id"`
	Username string       `json:"username"`
	Score    int          `json:"score"`
	Status   PlayerStatus `json:"status"`
}

// GameStateUpdate 全量状态快照，不适用的字段为null
type GameStateUpdate struct {
	GameState           GameState             `json:"gameState"`
	CountdownValue      *int                  `json:"countdownValue"`
	CurrentTurnPlayerID *string               `json:"currentTurnPlayerId"`
	CurrentTurnUsername *string               `json:"currentTurnUsername"`
	RemainingShots      *int                  `json:"remainingShots"`
	CurrentRound        *int                  `json:"currentRound"`
	TotalRounds         int                   `json:"totalRounds"`
	CurrentMajorTurn    *int                  `json:"currentMajorTurn"`
	TotalMajorTurns     int                   `json:"totalMajorTurns"`
	TurnDeadline        *int64                `json:"turnDeadline"` // unix毫秒
	AllPlayers          map[string]PlayerView `json:"allPlayers"`
	LobbyPlayers        []PlayerEntry         `json:"lobbyPlayers"`
	PlayingPlayers      []PlayerEntry         `json:"playingPlayers"`
}

// TargetUpdate 靶子全量快照
type TargetUpdate struct {
	Targets []TargetView `json:"targets"`
}

// Feedback 单播提示
type Feedback struct {
	Message string `json:"message"`
}

// HitFeedback 命中反馈
type HitFeedback struct {
	Points   int    `json:"points"`
	TargetID string `json:"targetId"`
}

// ErrorPayload 错误消息
type ErrorPayload struct {
	Error string `json:"error"`
}

// Snapshot 会话当前状态
type Snapshot struct {
	State   GameStateUpdate `json:"state"`
	Targets TargetUpdate    `json:"targets"`
}

// MatchPlayer 对局结束时的玩家成绩
type MatchPlayer struct {
	PlayerID string
	Username string
	Score    int
}

// MatchSummary 对局摘要
type MatchSummary struct {
	MatchID    string
	StartedAt  time.Time
	EndedAt    time.Time
	Rounds     int
	MajorTurns int
	Reason     string
	Players    []MatchPlayer
}

// 对局结束原因
const (
	EndReasonCompleted = "completed" // 全部轮次完成
	EndReasonAbandoned = "abandoned" // 所有参赛玩家离开
)

// buildGameState 从会话当前状态构建快照
func (s *Session) buildGameState() GameStateUpdate {
	state := s.sm.GetState()
	update := GameStateUpdate{
		GameState:       state,
		TotalRounds:     s.cfg.TotalRounds,
		TotalMajorTurns: s.cfg.MajorTurnsPerRound,
		AllPlayers:      make(map[string]PlayerView, s.roster.Len()),
		LobbyPlayers:    []PlayerEntry{},
		PlayingPlayers:  []PlayerEntry{},
	}

	for _, p := range s.roster.Players() {
		update.AllPlayers[p.ID] = PlayerView{Username: p.Username, Score: p.Score, Status: p.Status}
	}
	for _, id := range s.roster.Lobby() {
		if p, ok := s.roster.Get(id); ok {
			update.LobbyPlayers = append(update.LobbyPlayers, entryOf(p))
		}
	}

	switch state {
	case StateCountdown:
		v := s.countdownValue
		update.CountdownValue = &v

	case StatePlaying:
		for _, id := range s.turns.Order() {
			if p, ok := s.roster.Get(id); ok {
				update.PlayingPlayers = append(update.PlayingPlayers, entryOf(p))
			}
		}
		if id, ok := s.turns.Current(); ok {
			update.CurrentTurnPlayerID = &id
			if p, ok := s.roster.Get(id); ok {
				name := p.Username
				update.CurrentTurnUsername = &name
			}
		}
		shots, round, major := s.turns.RemainingShots(), s.turns.Round(), s.turns.MajorTurn()
		update.RemainingShots = &shots
		update.CurrentRound = &round
		update.CurrentMajorTurn = &major
		if d := s.turns.Deadline(); !d.IsZero() {
			ms := d.UnixMilli()
			update.TurnDeadline = &ms
		}
	}

	return update
}

func (s *Session) buildTargets() TargetUpdate {
	return TargetUpdate{Targets: s.sim.Snapshot()}
}

func entryOf(p *Player) PlayerEntry {
	return PlayerEntry{ID: p.ID, Username: p.Username, Score: p.Score, Status: p.Status}
}
