package game

import (
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/errors"
)

// HitReport 客户端上报的命中
type HitReport struct {
	TargetID  string `json:"targetId"`
	Points    int    `json:"points"`
	Origin    *Vec3  `json:"origin,omitempty"`
	Direction *Vec3  `json:"direction,omitempty"`
}

// HitResult 命中结算结果
type HitResult struct {
	PlayerID string
	TargetID string
	Points   int
	Score    int
}

// HitResolver 命中判定与计分
type HitResolver struct {
	cfg    config.GameConfig
	sim    *Simulator
	roster *Roster
	logger *zap.Logger
}

// NewHitResolver 创建命中判定器
func NewHitResolver(cfg config.GameConfig, sim *Simulator, roster *Roster, logger *zap.Logger) *HitResolver {
	return &HitResolver{
		cfg:    cfg,
		sim:    sim,
		roster: roster,
		logger: logger,
	}
}

// SetConfig 替换配置
func (h *HitResolver) SetConfig(cfg config.GameConfig) {
	h.cfg = cfg
}

// Resolve 判定一次命中：成功时加分并移除靶子
//
// 不校验当前回合归属，飞行中的弹道在换人后依然可以得分；观战者的命中同样计分。
func (h *HitResolver) Resolve(playerID string, report HitReport) (*HitResult, error) {
	p, ok := h.roster.Get(playerID)
	if !ok {
		return nil, errors.New(errors.ErrPlayerNotFound, playerID)
	}
	if report.TargetID == "" || report.Points < 0 || report.Points > h.cfg.MaxHitPoints {
		return nil, errors.Newf(errors.ErrInvalidInput, "target=%q points=%d", report.TargetID, report.Points)
	}

	target, ok := h.sim.Get(report.TargetID)
	if !ok {
		return nil, errors.New(errors.ErrTargetNotFound, report.TargetID)
	}

	if h.cfg.HitValidation == config.HitValidationRaycast {
		if report.Origin == nil || report.Direction == nil {
			return nil, errors.New(errors.ErrTargetNotFound, "缺少射线")
		}
		if !RayHitsSphere(*report.Origin, *report.Direction, target.Position, h.cfg.TargetRadius) {
			h.logger.Debug("射线校验未命中",
				zap.String("player_id", playerID),
				zap.String("target_id", report.TargetID))
			return nil, errors.New(errors.ErrTargetNotFound, report.TargetID)
		}
	}

	h.sim.Remove(target.ID)
	p.Score += report.Points

	return &HitResult{
		PlayerID: playerID,
		TargetID: target.ID,
		Points:   report.Points,
		Score:    p.Score,
	}, nil
}

// RayHitsSphere 射线是否穿过以center为球心、radius为半径的球体（只考虑射线正方向）
func RayHitsSphere(origin, direction, center Vec3, radius float64) bool {
	dir, ok := direction.Normalize()
	if !ok {
		return false
	}
	m := center.Sub(origin)
	along := m.Dot(dir)
	distSq := m.LengthSq() - along*along
	if along < 0 {
		// 球心在射线后方，只有起点在球内才算命中
		return m.LengthSq() <= radius*radius
	}
	return distSq <= radius*radius
}
