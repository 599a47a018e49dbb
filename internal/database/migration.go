package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/target-gallery/internal/errors"
	"github.com/wfunc/target-gallery/internal/logger"
	"github.com/wfunc/target-gallery/internal/models"
)

// migrationModels 需要迁移的模型
var migrationModels = []interface{}{
	&models.Match{},
	&models.MatchScore{},
}

// AutoMigrate 自动迁移全局数据库的表结构
func AutoMigrate() error {
	if DB == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}
	return Migrate(DB)
}

// Migrate 迁移表结构并补建索引
func Migrate(db *gorm.DB) error {
	logger.Info("开始数据库迁移...")

	for _, model := range migrationModels {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return errors.Wrapf(err, errors.ErrDatabaseQuery, "迁移%T失败", model)
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes(db)

	logger.Info("数据库迁移完成")
	return nil
}

// scoreIndex 排行榜按用户名聚合得分用的组合索引
const scoreIndex = "idx_match_scores_username_score"

// createIndexes 补建组合索引，失败只记录
func createIndexes(db *gorm.DB) {
	if db.Migrator().HasIndex(&models.MatchScore{}, scoreIndex) {
		return
	}
	if err := db.Exec("CREATE INDEX " + scoreIndex + " ON match_scores(username, score)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", scoreIndex), zap.Error(err))
	}
}

// DropAllTables 删除所有表（仅测试使用）
func DropAllTables(db *gorm.DB) error {
	for i := len(migrationModels) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(migrationModels[i]); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseQuery)
		}
	}
	return nil
}
