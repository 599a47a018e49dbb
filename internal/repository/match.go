package repository

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/wfunc/target-gallery/internal/errors"
	"github.com/wfunc/target-gallery/internal/game"
	"github.com/wfunc/target-gallery/internal/logger"
	"github.com/wfunc/target-gallery/internal/models"
)

// MatchRepository 对局记录仓储接口
type MatchRepository interface {
	BaseRepository
	game.MatchRecorder
	FindRecent(ctx context.Context, limit int) ([]*models.Match, error)
	FindByMatchID(ctx context.Context, matchID string) (*models.Match, error)
	Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error)
}

// LeaderboardEntry 排行榜条目，按用户名聚合
type LeaderboardEntry struct {
	Username   string `json:"username"`
	TotalScore int64  `json:"total_score"`
	BestScore  int    `json:"best_score"`
	Matches    int64  `json:"matches"`
}

// matchRepo 对局记录仓储实现
type matchRepo struct {
	*BaseRepo
}

// NewMatchRepository 创建对局记录仓储
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// RecordMatch 保存一局的摘要和每位玩家的得分
func (r *matchRepo) RecordMatch(ctx context.Context, summary *game.MatchSummary) error {
	if summary == nil || summary.MatchID == "" {
		return errors.New(errors.ErrInvalidParam, "对局摘要为空")
	}

	match := &models.Match{
		MatchID:    summary.MatchID,
		StartedAt:  summary.StartedAt,
		EndedAt:    summary.EndedAt,
		Duration:   int(summary.EndedAt.Sub(summary.StartedAt).Seconds()),
		Rounds:     summary.Rounds,
		MajorTurns: summary.MajorTurns,
		Reason:     summary.Reason,
		Scores:     rankScores(summary.Players),
	}

	start := time.Now()
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(match).Error
	})
	logger.LogDatabaseOperation("record_match", "matches", time.Since(start), err)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, summary.MatchID)
	}
	return nil
}

// rankScores 按得分降序排名，同分同名次
func rankScores(players []game.MatchPlayer) []models.MatchScore {
	scores := make([]models.MatchScore, len(players))
	for i, p := range players {
		scores[i] = models.MatchScore{PlayerID: p.PlayerID, Username: p.Username, Score: p.Score}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	for i := range scores {
		if i > 0 && scores[i].Score == scores[i-1].Score {
			scores[i].Rank = scores[i-1].Rank
		} else {
			scores[i].Rank = i + 1
		}
	}
	return scores
}

// FindRecent 最近结束的对局
func (r *matchRepo) FindRecent(ctx context.Context, limit int) ([]*models.Match, error) {
	var matches []*models.Match
	err := r.db.WithContext(ctx).
		Preload("Scores", func(db *gorm.DB) *gorm.DB {
			return db.Order("ranking asc, id asc")
		}).
		Order("ended_at desc, id desc").
		Scopes(Paginate(NewPagination(1, limit))).
		Find(&matches).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return matches, nil
}

// FindByMatchID 根据对局ID查找
func (r *matchRepo) FindByMatchID(ctx context.Context, matchID string) (*models.Match, error) {
	var match models.Match
	err := r.db.WithContext(ctx).
		Preload("Scores", func(db *gorm.DB) *gorm.DB {
			return db.Order("ranking asc, id asc")
		}).
		Where("match_id = ?", matchID).
		First(&match).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.New(errors.ErrNotFound, matchID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return &match, nil
}

// Leaderboard 按累计得分排序的用户名排行
func (r *matchRepo) Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	var entries []*LeaderboardEntry
	err := r.db.WithContext(ctx).
		Model(&models.MatchScore{}).
		Select("username, SUM(score) AS total_score, MAX(score) AS best_score, COUNT(*) AS matches").
		Group("username").
		Order("total_score desc, username asc").
		Scopes(Paginate(NewPagination(1, limit))).
		Scan(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return entries, nil
}
