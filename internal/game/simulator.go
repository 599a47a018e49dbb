package game

import (
	"math"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/errors"
)

// Vec3 三维向量
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub 向量相减
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Dot 点积
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// LengthSq 长度平方
func (v Vec3) LengthSq() float64 {
	return v.Dot(v)
}

// Normalize 单位化，零向量返回false
func (v Vec3) Normalize() (Vec3, bool) {
	l := math.Sqrt(v.LengthSq())
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec3{}, false
	}
	return Vec3{X: v.X / l, Y: v.Y / l, Z: v.Z / l}, true
}

// Target 活动靶
type Target struct {
	ID       string
	Position Vec3
	DirX     float64 // 水平方向 ±1
	SpeedX   float64 // 水平速度，单位/秒
	DirY     float64 // 垂直方向 ±1
	SpeedY   float64 // 垂直速度，单位/秒
}

// TargetView 靶子的对外视图
type TargetView struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

// Simulator 目标模拟器：出生点采样与往返运动
type Simulator struct {
	cfg     config.GameConfig
	rng     *rand.Rand
	targets []*Target
	active  func() bool
	newID   func() string
	logger  *zap.Logger
}

// NewSimulator 创建目标模拟器，active为nil时视为始终激活
func NewSimulator(cfg config.GameConfig, rng *rand.Rand, active func() bool, logger *zap.Logger) *Simulator {
	if active == nil {
		active = func() bool { return true }
	}
	return &Simulator{
		cfg:    cfg,
		rng:    rng,
		active: active,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// SetConfig 替换配置，已存在的靶子保留
func (s *Simulator) SetConfig(cfg config.GameConfig) {
	s.cfg = cfg
}

// TrySpawn 尝试生成一个靶子
//
// 未激活或数量已满时返回(nil, nil)；拒绝采样在尝试上限内找不到位置时返回ErrSpawnExhausted。
func (s *Simulator) TrySpawn() (*Target, error) {
	if !s.active() || len(s.targets) >= s.cfg.MaxTargets {
		return nil, nil
	}

	for attempt := 0; attempt < s.cfg.MaxSpawnAttempts; attempt++ {
		pos := Vec3{
			X: s.uniform(s.cfg.SpawnX),
			Y: s.uniform(s.cfg.SpawnY),
			Z: s.uniform(s.cfg.SpawnZ),
		}
		if !s.clearOf(pos) {
			continue
		}

		t := &Target{
			ID:       s.newID(),
			Position: pos,
			DirX:     s.sign(),
			SpeedX:   s.uniform(s.cfg.HorizontalSpeed),
			DirY:     s.sign(),
			SpeedY:   s.uniform(s.cfg.VerticalSpeed),
		}
		s.targets = append(s.targets, t)
		return t, nil
	}

	return nil, errors.Newf(errors.ErrSpawnExhausted, "attempts=%d targets=%d", s.cfg.MaxSpawnAttempts, len(s.targets))
}

// Seed 填充靶子直到上限，返回新生成的数量
func (s *Simulator) Seed() int {
	spawned := 0
	for i := 0; i < s.cfg.MaxTargets; i++ {
		t, err := s.TrySpawn()
		if err != nil {
			s.logger.Debug("初始靶子生成失败", zap.Error(err))
			continue
		}
		if t != nil {
			spawned++
		}
	}
	return spawned
}

// Tick 推进一帧，dt单位为秒；返回是否存在靶子
func (s *Simulator) Tick(dt float64) bool {
	if !s.active() {
		return false
	}
	for _, t := range s.targets {
		t.Position.X, t.DirX = pingPong(t.Position.X+t.DirX*t.SpeedX*dt, t.DirX, s.cfg.BoundsX)
		t.Position.Y, t.DirY = pingPong(t.Position.Y+t.DirY*t.SpeedY*dt, t.DirY, s.cfg.BoundsY)
	}
	return len(s.targets) > 0
}

// pingPong 越界时翻转方向并夹回边界
func pingPong(pos, dir float64, bounds config.Range) (float64, float64) {
	if pos > bounds.Max || pos < bounds.Min {
		return bounds.Clamp(pos), -dir
	}
	return pos, dir
}

// Get 按ID查找靶子
func (s *Simulator) Get(id string) (*Target, bool) {
	for _, t := range s.targets {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Remove 移除靶子，幂等；返回靶子是否存在
func (s *Simulator) Remove(id string) bool {
	for i, t := range s.targets {
		if t.ID == id {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return true
		}
	}
	return false
}

// Clear 清空所有靶子
func (s *Simulator) Clear() {
	s.targets = nil
}

// Count 当前靶子数量
func (s *Simulator) Count() int {
	return len(s.targets)
}

// Snapshot 全量快照，顺序与生成顺序一致
func (s *Simulator) Snapshot() []TargetView {
	views := make([]TargetView, 0, len(s.targets))
	for _, t := range s.targets {
		views = append(views, TargetView{ID: t.ID, X: t.Position.X, Y: t.Position.Y, Z: t.Position.Z})
	}
	return views
}

// clearOf 候选位置与所有现存靶子的距离平方不小于阈值
func (s *Simulator) clearOf(pos Vec3) bool {
	for _, t := range s.targets {
		if t.Position.Sub(pos).LengthSq() < s.cfg.MinSpawnDistanceSq {
			return false
		}
	}
	return true
}

func (s *Simulator) uniform(r config.Range) float64 {
	return r.Min + s.rng.Float64()*r.Span()
}

func (s *Simulator) sign() float64 {
	if s.rng.Intn(2) == 0 {
		return -1
	}
	return 1
}
