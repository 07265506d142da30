package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

type BacktestSchedule struct {
	ID             uint           `gorm:"primaryKey"`
	Name           string         `gorm:"type:varchar(100);not null"`
	CronExpression string         `gorm:"type:varchar(100);not null"`
	Request        datatypes.JSON `gorm:"type:jsonb;not null"`
	IsActive       bool           `gorm:"default:true"`
	LastRunAt      sql.NullTime
	NextRunAt      sql.NullTime
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (BacktestSchedule) TableName() string {
	return "backtest_schedules"
}
