package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/errors"
)

func newTestTurns(cfg config.GameConfig) (*TurnScheduler, *fakeScheduler, *[]TurnKey) {
	sched := newFakeScheduler()
	fired := &[]TurnKey{}
	turns := NewTurnScheduler(cfg, sched, func(key TurnKey) {
		*fired = append(*fired, key)
	}, zap.NewNop())
	return turns, sched, fired
}

func TestTurnSchedulerConsumeShot(t *testing.T) {
	turns, _, _ := newTestTurns(config.DefaultGameConfig())

	_, err := turns.ConsumeShot("a")
	assert.True(t, errors.Is(err, errors.ErrNotYourTurn))

	turns.Start([]string{"a", "b"}, 1)

	_, err = turns.ConsumeShot("b")
	assert.True(t, errors.Is(err, errors.ErrNotYourTurn))

	result, err := turns.ConsumeShot("a")
	require.NoError(t, err)
	assert.Equal(t, TurnContinues, result.Outcome)
	assert.Equal(t, 2, turns.RemainingShots())

	turns.ConsumeShot("a")
	result, err = turns.ConsumeShot("a")
	require.NoError(t, err)
	assert.Equal(t, TurnAdvanced, result.Outcome)
	assert.Equal(t, "a", result.PreviousPlayer)
	assert.Equal(t, "b", result.CurrentPlayer)
	assert.Equal(t, 3, turns.RemainingShots())
}

func TestTurnSchedulerNoShotsLeft(t *testing.T) {
	turns, _, _ := newTestTurns(config.DefaultGameConfig())
	turns.Start([]string{"a"}, 1)
	turns.remainingShots = 0

	_, err := turns.ConsumeShot("a")
	assert.True(t, errors.Is(err, errors.ErrNoShotsLeft))
}

func TestTurnSchedulerRoundProgression(t *testing.T) {
	cfg := config.DefaultGameConfig()
	cfg.MajorTurnsPerRound = 2
	cfg.TotalRounds = 2
	turns, _, _ := newTestTurns(cfg)
	turns.Start([]string{"a"}, 1)

	// 单人时每次换人都是一次完整轮转
	result := turns.AdvanceTurn()
	assert.Equal(t, TurnAdvanced, result.Outcome)
	assert.Equal(t, 1, turns.Round())
	assert.Equal(t, 2, turns.MajorTurn())

	turns.AdvanceTurn()
	assert.Equal(t, 2, turns.Round())
	assert.Equal(t, 1, turns.MajorTurn())

	turns.AdvanceTurn()
	assert.Equal(t, 2, turns.Round())
	assert.Equal(t, 2, turns.MajorTurn())

	result = turns.AdvanceTurn()
	assert.Equal(t, TurnSessionOver, result.Outcome)
	assert.True(t, turns.Deadline().IsZero())
}

func TestTurnSchedulerDeadline(t *testing.T) {
	turns, sched, fired := newTestTurns(config.DefaultGameConfig())
	turns.Start([]string{"a", "b"}, 3)

	key := turns.ArmedKey()
	assert.Equal(t, TurnKey{Epoch: 3, Round: 1, MajorTurn: 1, PlayerIndex: 0, Serial: 1}, key)
	assert.Equal(t, sched.now.Add(20*time.Second), turns.Deadline())

	timer := sched.nextDue(sched.now.Add(time.Hour))
	require.NotNil(t, timer)
	timer.f()
	require.Equal(t, []TurnKey{key}, *fired)

	result, ok := turns.OnDeadline(key)
	require.True(t, ok)
	assert.Equal(t, "a", result.PreviousPlayer)
	assert.Equal(t, "b", result.CurrentPlayer)

	// 同一个key再次触发无效
	_, ok = turns.OnDeadline(key)
	assert.False(t, ok)
	assert.Equal(t, "b", result.CurrentPlayer)
}

func TestTurnSchedulerStaleDeadlineAfterShots(t *testing.T) {
	turns, _, _ := newTestTurns(config.DefaultGameConfig())
	turns.Start([]string{"a", "b"}, 1)
	key := turns.ArmedKey()

	for i := 0; i < 3; i++ {
		turns.ConsumeShot("a")
	}

	_, ok := turns.OnDeadline(key)
	assert.False(t, ok)
	id, _ := turns.Current()
	assert.Equal(t, "b", id)
	assert.Equal(t, 3, turns.RemainingShots())
}

func TestTurnSchedulerRemovePlayer(t *testing.T) {
	turns, sched, _ := newTestTurns(config.DefaultGameConfig())
	turns.Start([]string{"a", "b", "c", "d"}, 1)
	turns.AdvanceTurn()
	turns.AdvanceTurn()
	require.Equal(t, 2, turns.Index())
	key := turns.ArmedKey()

	// 不在顺序中
	_, ok := turns.RemovePlayer("zz")
	assert.False(t, ok)

	// 排在当前之后
	result, ok := turns.RemovePlayer("d")
	require.True(t, ok)
	assert.Equal(t, TurnContinues, result.Outcome)
	assert.Equal(t, 2, turns.Index())
	assert.Equal(t, key, turns.ArmedKey())

	// 排在当前之前
	result, ok = turns.RemovePlayer("a")
	require.True(t, ok)
	assert.Equal(t, TurnContinues, result.Outcome)
	assert.Equal(t, 1, turns.Index())
	id, _ := turns.Current()
	assert.Equal(t, "c", id)
	assert.Equal(t, key, turns.ArmedKey())

	// 当前玩家且位于末尾：回到开头并计一次轮转
	result, ok = turns.RemovePlayer("c")
	require.True(t, ok)
	assert.Equal(t, TurnAdvanced, result.Outcome)
	assert.Equal(t, "b", result.CurrentPlayer)
	assert.Equal(t, 0, turns.Index())
	assert.Equal(t, 2, turns.MajorTurn())
	assert.Equal(t, 1, sched.live())

	// 最后一人离开
	result, ok = turns.RemovePlayer("b")
	require.True(t, ok)
	assert.Equal(t, TurnSessionOver, result.Outcome)
	assert.False(t, turns.Active())
	assert.Equal(t, 0, sched.live())
}

func TestTurnSchedulerStop(t *testing.T) {
	turns, sched, _ := newTestTurns(config.DefaultGameConfig())
	turns.Start([]string{"a"}, 1)
	key := turns.ArmedKey()

	turns.Stop()
	assert.False(t, turns.Active())
	assert.Equal(t, 0, sched.live())
	_, ok := turns.OnDeadline(key)
	assert.False(t, ok)
	assert.Equal(t, TurnSessionOver, turns.AdvanceTurn().Outcome)
}
