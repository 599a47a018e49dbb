package game

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
)

// fakeTimer 手动触发的定时器
type fakeTimer struct {
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler 手动推进时间的调度器
type fakeScheduler struct {
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	f.seq++
	t := &fakeTimer{at: f.now.Add(d), seq: f.seq, f: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeScheduler) Now() time.Time {
	return f.now
}

// nextDue 最早到期且未取消的定时器
func (f *fakeScheduler) nextDue(until time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.fired && !t.at.After(until) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

// live 未触发也未取消的定时器数量
func (f *fakeScheduler) live() int {
	n := 0
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// sent 一条记录下来的出站消息，To为空表示广播
type sent struct {
	To      string
	Type    string
	Payload interface{}
}

// recordingBroadcaster 记录所有出站消息
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []sent
}

func (b *recordingBroadcaster) Broadcast(msgType string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, sent{Type: msgType, Payload: payload})
}

func (b *recordingBroadcaster) SendTo(playerID string, msgType string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, sent{To: playerID, Type: msgType, Payload: payload})
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}

func (b *recordingBroadcaster) all() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.messages...)
}

// unicasts 发给指定玩家的某类消息
func (b *recordingBroadcaster) unicasts(playerID, msgType string) []interface{} {
	var out []interface{}
	for _, m := range b.all() {
		if m.To == playerID && m.Type == msgType {
			out = append(out, m.Payload)
		}
	}
	return out
}

// feedback 发给指定玩家的feedback文本
func (b *recordingBroadcaster) feedback(playerID string) []string {
	var out []string
	for _, p := range b.unicasts(playerID, MsgFeedback) {
		out = append(out, p.(Feedback).Message)
	}
	return out
}

// lastBroadcast 最近一次某类广播
func (b *recordingBroadcaster) lastBroadcast(msgType string) (interface{}, bool) {
	msgs := b.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].To == "" && msgs[i].Type == msgType {
			return msgs[i].Payload, true
		}
	}
	return nil, false
}

// recordingRecorder 收集保存的对局
type recordingRecorder struct {
	mu      sync.Mutex
	matches []*MatchSummary
}

func (r *recordingRecorder) RecordMatch(ctx context.Context, summary *MatchSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = append(r.matches, summary)
	return nil
}

// harness 同步驱动会话：命令投递后由pump在测试goroutine中逐个处理
type harness struct {
	t     *testing.T
	cfg   config.GameConfig
	s     *Session
	sched *fakeScheduler
	bc    *recordingBroadcaster
}

func newHarness(t *testing.T, mutate ...func(*config.GameConfig)) *harness {
	t.Helper()
	cfg := config.DefaultGameConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	require.NoError(t, cfg.Validate())

	sched := newFakeScheduler()
	bc := &recordingBroadcaster{}
	s := NewSession(cfg, bc, sched, rand.New(rand.NewSource(42)), zap.NewNop())
	return &harness{t: t, cfg: cfg, s: s, sched: sched, bc: bc}
}

// pump 处理收件箱中的全部命令
func (h *harness) pump() {
	for {
		select {
		case cmd := <-h.s.inbox:
			h.s.handle(cmd)
		default:
			return
		}
	}
}

// advance 推进时间，依次触发到期定时器并处理它们投递的命令
func (h *harness) advance(d time.Duration) {
	until := h.sched.now.Add(d)
	for {
		t := h.sched.nextDue(until)
		if t == nil {
			break
		}
		h.sched.now = t.at
		t.fired = true
		t.f()
		h.pump()
	}
	h.sched.now = until
}

func (h *harness) join(id, name string) {
	h.s.Join(id, name)
	h.pump()
}

func (h *harness) ready(id string) {
	h.s.Ready(id)
	h.pump()
}

func (h *harness) shoot(id string, n int) {
	for i := 0; i < n; i++ {
		h.s.ShotFired(id)
	}
	h.pump()
}

func (h *harness) disconnect(id string) {
	h.s.Disconnect(id)
	h.pump()
}

// startGame 加入并准备所有玩家，走完倒计时进入PLAYING
func (h *harness) startGame(ids ...string) {
	for _, id := range ids {
		h.join(id, id)
	}
	for _, id := range ids {
		h.ready(id)
	}
	require.Equal(h.t, StateCountdown, h.s.sm.GetState())
	h.advance(time.Duration(h.cfg.CountdownSeconds) * time.Second)
	require.Equal(h.t, StatePlaying, h.s.sm.GetState())
}

func (h *harness) state() GameStateUpdate {
	return h.s.buildGameState()
}

func (h *harness) current() string {
	id, _ := h.s.turns.Current()
	return id
}

func (h *harness) player(id string) *Player {
	p, ok := h.s.roster.Get(id)
	require.True(h.t, ok, "player %s", id)
	return p
}

// checkInvariants 会话在任意时刻都必须满足的约束
func (h *harness) checkInvariants() {
	t := h.t
	t.Helper()

	lobby := h.s.roster.Lobby()
	order := h.s.turns.Order()
	seen := make(map[string]bool)
	for _, id := range append(lobby, order...) {
		require.False(t, seen[id], "player %s appears twice", id)
		seen[id] = true
	}

	if h.s.sm.Is(StatePlaying) {
		require.NotEmpty(t, order)
		require.GreaterOrEqual(t, h.s.turns.Index(), 0)
		require.Less(t, h.s.turns.Index(), len(order))
		require.GreaterOrEqual(t, h.s.turns.RemainingShots(), 0)
		require.LessOrEqual(t, h.s.turns.RemainingShots(), h.cfg.ShotsPerTurn)
		require.LessOrEqual(t, h.s.turns.Round(), h.cfg.TotalRounds)
		require.LessOrEqual(t, h.s.turns.MajorTurn(), h.cfg.MajorTurnsPerRound)
	} else {
		require.Empty(t, order)
	}

	for _, tg := range h.s.sim.targets {
		require.True(t, h.cfg.BoundsX.Contains(tg.Position.X))
		require.True(t, h.cfg.BoundsY.Contains(tg.Position.Y))
	}
}
