package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// 命中校验模式
const (
	HitValidationTrust   = "trust"   // 信任客户端上报的目标ID
	HitValidationRaycast = "raycast" // 服务端根据射线重新判定
)

var validate = validator.New()

// Range 闭区间 [Min, Max]
type Range struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max" validate:"gtefield=Min"`
}

// Contains 判断v是否在区间内
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Span 区间长度
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Clamp 将v限制在区间内
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// GameConfig 射击对局配置，会话创建时注入，运行中只在 WAITING 阶段替换
type GameConfig struct {
	// 回合规则
	ShotsPerTurn       int           `mapstructure:"shots_per_turn" validate:"min=1"`
	MajorTurnsPerRound int           `mapstructure:"major_turns_per_round" validate:"min=1"`
	TotalRounds        int           `mapstructure:"total_rounds" validate:"min=1"`
	CountdownSeconds   int           `mapstructure:"countdown_seconds" validate:"min=1,max=60"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout" validate:"gt=0"`
	ResultsHold        time.Duration `mapstructure:"results_hold" validate:"gte=0"` // 0 表示等待 requestRestart

	// 目标模拟
	TickRate           int     `mapstructure:"tick_rate" validate:"min=1,max=120"`
	MaxTargets         int     `mapstructure:"max_targets" validate:"min=1,max=64"`
	MinSpawnDistanceSq float64 `mapstructure:"min_spawn_distance_sq" validate:"gte=0"`
	MaxSpawnAttempts   int     `mapstructure:"max_spawn_attempts" validate:"min=1"`
	SpawnX             Range   `mapstructure:"spawn_x"`
	SpawnY             Range   `mapstructure:"spawn_y"`
	SpawnZ             Range   `mapstructure:"spawn_z"`
	BoundsX            Range   `mapstructure:"bounds_x"`
	BoundsY            Range   `mapstructure:"bounds_y"`
	HorizontalSpeed    Range   `mapstructure:"horizontal_speed"` // 单位/秒
	VerticalSpeed      Range   `mapstructure:"vertical_speed"`   // 单位/秒

	// 命中判定
	HitValidation string  `mapstructure:"hit_validation" validate:"oneof=trust raycast"`
	TargetRadius  float64 `mapstructure:"target_radius" validate:"gt=0"`
	MaxHitPoints  int     `mapstructure:"max_hit_points" validate:"min=1"`
}

// DefaultGameConfig 默认对局配置
func DefaultGameConfig() GameConfig {
	return GameConfig{
		ShotsPerTurn:       3,
		MajorTurnsPerRound: 2,
		TotalRounds:        3,
		CountdownSeconds:   5,
		TurnTimeout:        20 * time.Second,
		ResultsHold:        0,
		TickRate:           30,
		MaxTargets:         5,
		MinSpawnDistanceSq: 4.0,
		MaxSpawnAttempts:   10,
		SpawnX:             Range{Min: -7, Max: 7},
		SpawnY:             Range{Min: 5, Max: 10},
		SpawnZ:             Range{Min: -14, Max: -10},
		BoundsX:            Range{Min: -7, Max: 7},
		BoundsY:            Range{Min: 4, Max: 11},
		HorizontalSpeed:    Range{Min: 1.8, Max: 4.2},
		VerticalSpeed:      Range{Min: 0.9, Max: 2.4},
		HitValidation:      HitValidationTrust,
		TargetRadius:       0.75,
		MaxHitPoints:       100,
	}
}

// Validate 校验对局配置
func (c *GameConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	// 出生区域必须落在运动边界内，否则新目标第一帧就会被夹回边界
	if c.SpawnX.Min < c.BoundsX.Min || c.SpawnX.Max > c.BoundsX.Max {
		return fmt.Errorf("spawn_x [%v, %v] 超出 bounds_x [%v, %v]",
			c.SpawnX.Min, c.SpawnX.Max, c.BoundsX.Min, c.BoundsX.Max)
	}
	if c.SpawnY.Min < c.BoundsY.Min || c.SpawnY.Max > c.BoundsY.Max {
		return fmt.Errorf("spawn_y [%v, %v] 超出 bounds_y [%v, %v]",
			c.SpawnY.Min, c.SpawnY.Max, c.BoundsY.Min, c.BoundsY.Max)
	}
	if c.HorizontalSpeed.Min < 0 || c.VerticalSpeed.Min < 0 {
		return fmt.Errorf("目标速度不能为负数")
	}

	return nil
}

// TickInterval 模拟帧间隔
func (c *GameConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// setGameDefaults 设置对局默认值
func setGameDefaults(v *viper.Viper) {
	d := DefaultGameConfig()

	v.SetDefault("game.shots_per_turn", d.ShotsPerTurn)
	v.SetDefault("game.major_turns_per_round", d.MajorTurnsPerRound)
	v.SetDefault("game.total_rounds", d.TotalRounds)
	v.SetDefault("game.countdown_seconds", d.CountdownSeconds)
	v.SetDefault("game.turn_timeout", d.TurnTimeout.String())
	v.SetDefault("game.results_hold", d.ResultsHold.String())

	v.SetDefault("game.tick_rate", d.TickRate)
	v.SetDefault("game.max_targets", d.MaxTargets)
	v.SetDefault("game.min_spawn_distance_sq", d.MinSpawnDistanceSq)
	v.SetDefault("game.max_spawn_attempts", d.MaxSpawnAttempts)

	ranges := map[string]Range{
		"spawn_x":          d.SpawnX,
		"spawn_y":          d.SpawnY,
		"spawn_z":          d.SpawnZ,
		"bounds_x":         d.BoundsX,
		"bounds_y":         d.BoundsY,
		"horizontal_speed": d.HorizontalSpeed,
		"vertical_speed":   d.VerticalSpeed,
	}
	for key, r := range ranges {
		v.SetDefault("game."+key+".min", r.Min)
		v.SetDefault("game."+key+".max", r.Max)
	}

	v.SetDefault("game.hit_validation", d.HitValidation)
	v.SetDefault("game.target_radius", d.TargetRadius)
	v.SetDefault("game.max_hit_points", d.MaxHitPoints)
}
