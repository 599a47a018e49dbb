package models

import (
	"time"
)

// Match 对局记录表
type Match struct {
	BaseModel
	MatchID    string    `gorm:"uniqueIndex;size:64;not null" json:"match_id"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	EndedAt    time.Time `gorm:"index" json:"ended_at"`
	Duration   int       `json:"duration"` // 秒
	Rounds     int       `json:"rounds"`
	MajorTurns int       `json:"major_turns"`
	Reason     string    `gorm:"size:20" json:"reason"` // completed, abandoned

	// 关联
	Scores []MatchScore `gorm:"foreignKey:MatchRefID" json:"scores,omitempty"`
}

// MatchScore 对局内玩家得分表
type MatchScore struct {
	BaseModel
	MatchRefID uint   `gorm:"not null;index" json:"-"`
	PlayerID   string `gorm:"size:64;not null" json:"player_id"`
	Username   string `gorm:"size:64;not null;index" json:"username"`
	Score      int    `gorm:"default:0" json:"score"`
	Rank       int    `gorm:"column:ranking" json:"rank"`
}

// TableName 指定表名
func (MatchScore) TableName() string {
	return "match_scores"
}
