package game

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wfunc/target-gallery/internal/errors"
)

// MaxUsernameLength 用户名最大字符数
const MaxUsernameLength = 32

// PlayerStatus 玩家状态
type PlayerStatus string

const (
	StatusWaiting    PlayerStatus = "WAITING"    // 大厅等待
	StatusReady      PlayerStatus = "READY"      // 已准备
	StatusPlaying    PlayerStatus = "PLAYING"    // 对局中
	StatusSpectating PlayerStatus = "SPECTATING" // 观战，下一次回到大厅时加入
)

// Player 玩家
type Player struct {
	ID       string
	Username string
	Score    int
	Status   PlayerStatus
	JoinedAt time.Time
}

// Roster 玩家名册，维护已加入的玩家与大厅顺序
//
// 不加锁，只允许会话goroutine访问。
type Roster struct {
	players map[string]*Player
	joined  []string // 加入顺序
	lobby   []string // 大厅中的玩家（WAITING/READY）
}

// NewRoster 创建名册
func NewRoster() *Roster {
	return &Roster{
		players: make(map[string]*Player),
	}
}

// NormalizeUsername 规范化用户名：去除首尾空白并截断
func NormalizeUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", errors.New(errors.ErrInvalidInput, "用户名不能为空")
	}
	if utf8.RuneCountInString(name) > MaxUsernameLength {
		name = string([]rune(name)[:MaxUsernameLength])
	}
	return name, nil
}

// Add 添加玩家，WAITING状态的玩家同时进入大厅
func (r *Roster) Add(id, username string, status PlayerStatus, now time.Time) (*Player, error) {
	if _, ok := r.players[id]; ok {
		return nil, errors.New(errors.ErrAlreadyJoined, id)
	}

	p := &Player{
		ID:       id,
		Username: username,
		Status:   status,
		JoinedAt: now,
	}
	r.players[id] = p
	r.joined = append(r.joined, id)
	if status == StatusWaiting || status == StatusReady {
		r.lobby = append(r.lobby, id)
	}
	return p, nil
}

// Get 获取玩家
func (r *Roster) Get(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Remove 移除玩家，返回被移除的玩家以及他是否在大厅中
func (r *Roster) Remove(id string) (*Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return nil, false
	}
	delete(r.players, id)
	r.joined = removeID(r.joined, id)

	inLobby := indexOf(r.lobby, id) >= 0
	if inLobby {
		r.lobby = removeID(r.lobby, id)
	}
	return p, inLobby
}

// Len 玩家总数
func (r *Roster) Len() int {
	return len(r.players)
}

// Players 按加入顺序返回所有玩家
func (r *Roster) Players() []*Player {
	out := make([]*Player, 0, len(r.joined))
	for _, id := range r.joined {
		out = append(out, r.players[id])
	}
	return out
}

// Lobby 大厅玩家ID（副本）
func (r *Roster) Lobby() []string {
	return append([]string(nil), r.lobby...)
}

// LobbyLen 大厅人数
func (r *Roster) LobbyLen() int {
	return len(r.lobby)
}

// AllReady 大厅非空且所有人都已准备
func (r *Roster) AllReady() bool {
	if len(r.lobby) == 0 {
		return false
	}
	for _, id := range r.lobby {
		if p := r.players[id]; p == nil || p.Status != StatusReady {
			return false
		}
	}
	return true
}

// TakeLobby 取出大厅玩家并清空大厅，顺序保持不变
func (r *Roster) TakeLobby() []string {
	ids := r.lobby
	r.lobby = nil
	return ids
}

// SetStatus 批量设置状态
func (r *Roster) SetStatus(ids []string, status PlayerStatus) {
	for _, id := range ids {
		if p, ok := r.players[id]; ok {
			p.Status = status
		}
	}
}

// ReturnToLobby 对局结束后，参赛玩家排在前面，随后是原大厅玩家，最后是观战者
func (r *Roster) ReturnToLobby(finished []string) {
	lobby := make([]string, 0, len(r.players))
	for _, id := range finished {
		if p, ok := r.players[id]; ok {
			p.Status = StatusWaiting
			lobby = append(lobby, id)
		}
	}
	lobby = append(lobby, r.lobby...)
	for _, id := range r.joined {
		if p := r.players[id]; p.Status == StatusSpectating {
			p.Status = StatusWaiting
			lobby = append(lobby, id)
		}
	}
	r.lobby = lobby
}

// ResetAll 重置所有玩家：分数清零、状态WAITING、全部回到大厅
func (r *Roster) ResetAll() {
	r.lobby = make([]string, 0, len(r.joined))
	for _, id := range r.joined {
		p := r.players[id]
		p.Score = 0
		p.Status = StatusWaiting
		r.lobby = append(r.lobby, id)
	}
}

// UnreadyLobby 大厅玩家全部取消准备
func (r *Roster) UnreadyLobby() {
	r.SetStatus(r.lobby, StatusWaiting)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func removeID(ids []string, id string) []string {
	i := indexOf(ids, id)
	if i < 0 {
		return ids
	}
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	return append(out, ids[i+1:]...)
}
