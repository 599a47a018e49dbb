package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/errors"
	"github.com/wfunc/target-gallery/internal/game"
	"github.com/wfunc/target-gallery/internal/models"
	"github.com/wfunc/target-gallery/internal/repository"
)

const (
	defaultLimit    = 10
	maxLimit        = 100
	snapshotTimeout = 2 * time.Second
)

// StateSource 可查询当前对局快照的会话
type StateSource interface {
	Snapshot(ctx context.Context) (game.Snapshot, error)
}

// MatchStore 对局历史查询
type MatchStore interface {
	FindRecent(ctx context.Context, limit int) ([]*models.Match, error)
	Leaderboard(ctx context.Context, limit int) ([]*repository.LeaderboardEntry, error)
}

// GameHandler 只读的对局查询接口
type GameHandler struct {
	session StateSource
	matches MatchStore
	logger  *zap.Logger
}

// NewGameHandler 创建对局查询处理器，matches为nil表示未启用对局记录
func NewGameHandler(session StateSource, matches MatchStore, logger *zap.Logger) *GameHandler {
	return &GameHandler{
		session: session,
		matches: matches,
		logger:  logger,
	}
}

// GetState 当前状态快照，内容与gameStateUpdate/targetUpdate相同
func (h *GameHandler) GetState(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	snapshot, err := h.session.Snapshot(ctx)
	if err != nil {
		h.logger.Warn("获取会话快照失败", zap.Error(err))
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		game.MsgGameStateUpdate: snapshot.State,
		game.MsgTargetUpdate:    snapshot.Targets,
	})
}

// GetMatches 最近的对局
func (h *GameHandler) GetMatches(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.matches == nil {
		respondOK(c, []*models.Match{})
		return
	}

	matches, err := h.matches.FindRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("查询对局记录失败", zap.Error(err))
		respondError(c, err)
		return
	}
	respondOK(c, matches)
}

// GetLeaderboard 排行榜
func (h *GameHandler) GetLeaderboard(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.matches == nil {
		respondOK(c, []*repository.LeaderboardEntry{})
		return
	}

	entries, err := h.matches.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("查询排行榜失败", zap.Error(err))
		respondError(c, err)
		return
	}
	respondOK(c, entries)
}

// parseLimit 解析limit参数，缺省为10，上限100
func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.Newf(errors.ErrInvalidParam, "limit=%s", raw)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
