package game

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/errors"
)

func newTestResolver(mode string) (*HitResolver, *Simulator, *Roster) {
	cfg := config.DefaultGameConfig()
	cfg.HitValidation = mode
	roster := NewRoster()
	sim := NewSimulator(cfg, rand.New(rand.NewSource(1)), nil, zap.NewNop())
	sim.targets = []*Target{
		{ID: "t1", Position: Vec3{X: 0, Y: 8, Z: -12}},
		{ID: "t2", Position: Vec3{X: 5, Y: 6, Z: -11}},
	}
	p, _ := roster.Add("a", "A", StatusWaiting, time.Now())
	p.Status = StatusPlaying
	return NewHitResolver(cfg, sim, roster, zap.NewNop()), sim, roster
}

func TestResolveTrustMode(t *testing.T) {
	resolver, sim, roster := newTestResolver(config.HitValidationTrust)

	result, err := resolver.Resolve("a", HitReport{TargetID: "t1", Points: 15})
	require.NoError(t, err)
	assert.Equal(t, &HitResult{PlayerID: "a", TargetID: "t1", Points: 15, Score: 15}, result)
	assert.Equal(t, 1, sim.Count())

	// 同一靶子第二次命中视为未命中，分数不变
	_, err = resolver.Resolve("a", HitReport{TargetID: "t1", Points: 15})
	assert.True(t, errors.Is(err, errors.ErrTargetNotFound))
	p, _ := roster.Get("a")
	assert.Equal(t, 15, p.Score)
}

func TestResolveRejectsBadInput(t *testing.T) {
	resolver, sim, roster := newTestResolver(config.HitValidationTrust)

	_, err := resolver.Resolve("ghost", HitReport{TargetID: "t1", Points: 1})
	assert.True(t, errors.Is(err, errors.ErrPlayerNotFound))

	_, err = resolver.Resolve("a", HitReport{TargetID: "", Points: 1})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = resolver.Resolve("a", HitReport{TargetID: "t1", Points: -5})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = resolver.Resolve("a", HitReport{TargetID: "t1", Points: 101})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	assert.Equal(t, 2, sim.Count())
	p, _ := roster.Get("a")
	assert.Equal(t, 0, p.Score)
}

func TestResolveAcceptsSpectator(t *testing.T) {
	resolver, sim, roster := newTestResolver(config.HitValidationTrust)
	_, err := roster.Add("w", "Watcher", StatusSpectating, time.Now())
	require.NoError(t, err)

	result, err := resolver.Resolve("w", HitReport{TargetID: "t2", Points: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Score)
	assert.Equal(t, 1, sim.Count())

	p, _ := roster.Get("w")
	assert.Equal(t, 4, p.Score)
	assert.Equal(t, StatusSpectating, p.Status)
}

func TestResolveRaycastMode(t *testing.T) {
	resolver, sim, _ := newTestResolver(config.HitValidationRaycast)
	origin := Vec3{X: 0, Y: 2, Z: 0}

	// 缺少射线
	_, err := resolver.Resolve("a", HitReport{TargetID: "t1", Points: 5})
	assert.True(t, errors.Is(err, errors.ErrTargetNotFound))

	// 射线偏离靶子
	away := Vec3{X: 1, Y: 0, Z: 0}
	_, err = resolver.Resolve("a", HitReport{TargetID: "t1", Points: 5, Origin: &origin, Direction: &away})
	assert.True(t, errors.Is(err, errors.ErrTargetNotFound))
	assert.Equal(t, 2, sim.Count())

	// 指向靶心
	toward := Vec3{X: 0, Y: 6, Z: -12}
	result, err := resolver.Resolve("a", HitReport{TargetID: "t1", Points: 5, Origin: &origin, Direction: &toward})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Score)
	assert.Equal(t, 1, sim.Count())
}

func TestRayHitsSphere(t *testing.T) {
	center := Vec3{X: 0, Y: 0, Z: -10}

	assert.True(t, RayHitsSphere(Vec3{}, Vec3{Z: -1}, center, 0.5))
	assert.True(t, RayHitsSphere(Vec3{X: 0.4}, Vec3{Z: -1}, center, 0.5))
	assert.False(t, RayHitsSphere(Vec3{X: 0.6}, Vec3{Z: -1}, center, 0.5))
	// 反方向
	assert.False(t, RayHitsSphere(Vec3{}, Vec3{Z: 1}, center, 0.5))
	// 起点在球内
	assert.True(t, RayHitsSphere(Vec3{Z: -10.2}, Vec3{Z: 1}, center, 0.5))
	// 零向量
	assert.False(t, RayHitsSphere(Vec3{}, Vec3{}, center, 0.5))
}
