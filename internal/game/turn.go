package game

import (
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/errors"
)

// TurnKey 回合超时定时器的上下文，只有与当前已布置的key完全相同的触发才会生效
type TurnKey struct {
	Epoch       uint64
	Round       int
	MajorTurn   int
	PlayerIndex int
	Serial      uint64
}

// TurnOutcome 回合操作结果
type TurnOutcome int

const (
	TurnContinues TurnOutcome = iota // 当前玩家继续
	TurnAdvanced                     // 轮到下一位玩家
	TurnSessionOver                  // 所有轮次结束或无人可玩
)

// TurnResult 回合操作的结果
type TurnResult struct {
	Outcome        TurnOutcome
	PreviousPlayer string
	CurrentPlayer  string
}

// TurnScheduler 回合调度器：当前玩家、剩余射击次数、轮次与超时
//
// 不加锁，只允许会话goroutine访问。
type TurnScheduler struct {
	cfg    config.GameConfig
	sched  Scheduler
	logger *zap.Logger

	// 超时回调，只负责把key投递回会话
	onDeadline func(TurnKey)

	order          []string
	index          int
	remainingShots int
	round          int
	majorTurn      int

	epoch      uint64
	serial     uint64
	armed      TurnKey
	timer      Timer
	deadlineAt time.Time
}

// NewTurnScheduler 创建回合调度器
func NewTurnScheduler(cfg config.GameConfig, sched Scheduler, onDeadline func(TurnKey), logger *zap.Logger) *TurnScheduler {
	return &TurnScheduler{
		cfg:        cfg,
		sched:      sched,
		onDeadline: onDeadline,
		logger:     logger,
	}
}

// SetConfig 替换配置，在下一次Start时生效
func (t *TurnScheduler) SetConfig(cfg config.GameConfig) {
	t.cfg = cfg
}

// Start 以给定顺序开始新对局并为第一位玩家布置超时
func (t *TurnScheduler) Start(order []string, epoch uint64) {
	t.cancelDeadline()
	t.order = append([]string(nil), order...)
	t.index = 0
	t.remainingShots = t.cfg.ShotsPerTurn
	t.round = 1
	t.majorTurn = 1
	t.epoch = epoch
	if len(t.order) > 0 {
		t.arm()
	}
}

// Stop 结束对局，取消超时并清空顺序
func (t *TurnScheduler) Stop() {
	t.cancelDeadline()
	t.order = nil
	t.index = 0
	t.remainingShots = 0
	t.round = 0
	t.majorTurn = 0
}

// Active 是否有进行中的回合
func (t *TurnScheduler) Active() bool {
	return len(t.order) > 0
}

// ConsumeShot 当前玩家消耗一次射击，用完后自动换人
func (t *TurnScheduler) ConsumeShot(playerID string) (TurnResult, error) {
	if !t.Active() || t.order[t.index] != playerID {
		return TurnResult{}, errors.New(errors.ErrNotYourTurn, playerID)
	}
	if t.remainingShots <= 0 {
		return TurnResult{}, errors.New(errors.ErrNoShotsLeft, playerID)
	}

	t.remainingShots--
	if t.remainingShots == 0 {
		return t.AdvanceTurn(), nil
	}
	return TurnResult{Outcome: TurnContinues, PreviousPlayer: playerID, CurrentPlayer: playerID}, nil
}

// AdvanceTurn 轮到下一位玩家
func (t *TurnScheduler) AdvanceTurn() TurnResult {
	if !t.Active() {
		return TurnResult{Outcome: TurnSessionOver}
	}
	prev := t.order[t.index]
	return t.moveTo(t.index+1, prev)
}

// OnDeadline 处理超时触发，过期的key返回false且不改变任何状态
func (t *TurnScheduler) OnDeadline(key TurnKey) (TurnResult, bool) {
	if !t.Active() || t.timer == nil || key != t.armed {
		return TurnResult{}, false
	}
	t.timer = nil
	return t.AdvanceTurn(), true
}

// RemovePlayer 从回合顺序中移除玩家，返回结果以及玩家是否在顺序中
func (t *TurnScheduler) RemovePlayer(playerID string) (TurnResult, bool) {
	pos := indexOf(t.order, playerID)
	if pos < 0 {
		return TurnResult{}, false
	}

	current := t.order[t.index]
	t.order = removeID(t.order, playerID)

	if len(t.order) == 0 {
		t.cancelDeadline()
		return TurnResult{Outcome: TurnSessionOver, PreviousPlayer: playerID}, true
	}

	switch {
	case pos < t.index:
		// 当前玩家前移一位，回合与超时不变
		t.index--
		return TurnResult{Outcome: TurnContinues, PreviousPlayer: current, CurrentPlayer: current}, true
	case pos > t.index:
		return TurnResult{Outcome: TurnContinues, PreviousPlayer: current, CurrentPlayer: current}, true
	}

	// 被移除的玩家正持有回合：原index已指向下一位
	return t.moveTo(t.index, playerID), true
}

// moveTo 切换到next位置的玩家；越过末尾视为完成一次完整轮转
func (t *TurnScheduler) moveTo(next int, prev string) TurnResult {
	t.cancelDeadline()

	wrapped := next >= len(t.order)
	if wrapped {
		next = 0
	}
	t.index = next
	t.remainingShots = t.cfg.ShotsPerTurn

	if wrapped {
		t.majorTurn++
		if t.majorTurn > t.cfg.MajorTurnsPerRound {
			t.majorTurn = 1
			t.round++
		}
		if t.round > t.cfg.TotalRounds {
			return TurnResult{Outcome: TurnSessionOver, PreviousPlayer: prev}
		}
	}

	t.arm()
	return TurnResult{Outcome: TurnAdvanced, PreviousPlayer: prev, CurrentPlayer: t.order[t.index]}
}

// arm 为当前玩家布置新的超时
func (t *TurnScheduler) arm() {
	t.serial++
	key := TurnKey{
		Epoch:       t.epoch,
		Round:       t.round,
		MajorTurn:   t.majorTurn,
		PlayerIndex: t.index,
		Serial:      t.serial,
	}
	t.armed = key
	t.deadlineAt = t.sched.Now().Add(t.cfg.TurnTimeout)
	t.timer = t.sched.AfterFunc(t.cfg.TurnTimeout, func() {
		if t.onDeadline != nil {
			t.onDeadline(key)
		}
	})
	t.logger.Debug("布置回合超时",
		zap.String("player_id", t.order[t.index]),
		zap.Int("round", t.round),
		zap.Int("major_turn", t.majorTurn),
		zap.Uint64("serial", t.serial))
}

// cancelDeadline 取消当前超时；即便取消失败，过期的key也会被OnDeadline拒绝
func (t *TurnScheduler) cancelDeadline() {
	stopTimer(t.timer)
	t.timer = nil
	t.armed = TurnKey{}
	t.deadlineAt = time.Time{}
}

// Current 当前回合玩家ID
func (t *TurnScheduler) Current() (string, bool) {
	if !t.Active() {
		return "", false
	}
	return t.order[t.index], true
}

// Order 回合顺序（副本）
func (t *TurnScheduler) Order() []string {
	return append([]string(nil), t.order...)
}

// Index 当前玩家下标
func (t *TurnScheduler) Index() int { return t.index }

// RemainingShots 剩余射击次数
func (t *TurnScheduler) RemainingShots() int { return t.remainingShots }

// Round 当前轮次
func (t *TurnScheduler) Round() int { return t.round }

// MajorTurn 当前大回合
func (t *TurnScheduler) MajorTurn() int { return t.majorTurn }

// Deadline 当前回合的截止时间，无回合时为零值
func (t *TurnScheduler) Deadline() time.Time { return t.deadlineAt }

// ArmedKey 当前已布置的超时key
func (t *TurnScheduler) ArmedKey() TurnKey { return t.armed }
