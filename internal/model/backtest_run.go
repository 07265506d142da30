package model

import (
	"time"

	"gorm.io/datatypes"
)

type BacktestRun struct {
	ID          uint      `gorm:"primaryKey"`
	Ticker      string    `gorm:"type:varchar(20);not null;index"`
	StartDate   time.Time `gorm:"not null"`
	EndDate     time.Time `gorm:"not null"`
	Status      string    `gorm:"type:varchar(20);not null"`
	AbortReason string    `gorm:"type:text"`
	FinalEquity float64
	Config      datatypes.JSON `gorm:"type:jsonb"`
	Trades      datatypes.JSON `gorm:"type:jsonb"`
	EquityCurve datatypes.JSON `gorm:"type:jsonb"`
	DecisionLog datatypes.JSON `gorm:"type:jsonb"`
	Metrics     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
}

func (BacktestRun) TableName() string {
	return "backtest_runs"
}
