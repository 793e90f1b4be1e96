package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AccountModel struct {
	UID           string `gorm:"primaryKey"`
	Email         string
	Credits       int       `gorm:"not null"`
	FreeTrialUsed bool      `gorm:"not null"`
	Plan          string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type GenerationModel struct {
	ID             string         `gorm:"primaryKey"`
	UID            string         `gorm:"not null;index"`
	Platform       string         `gorm:"not null"`
	Status         string         `gorm:"not null;index:idx_generation_status_created,priority:1"`
	Stage          string
	Error          string
	Input          datatypes.JSON `gorm:"type:jsonb;not null"`
	ReferenceStats datatypes.JSON `gorm:"type:jsonb"`
	StyleProfile   datatypes.JSON `gorm:"type:jsonb"`
	Output         datatypes.JSON `gorm:"type:jsonb"`
	UsedFreeTrial  bool           `gorm:"not null"`
	Refunded       bool           `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_generation_status_created,priority:2"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

type GenerationIndexModel struct {
	ID                 string `gorm:"primaryKey"`
	UID                string `gorm:"not null;index:idx_generation_index_uid_created,priority:1"`
	Platform           string `gorm:"not null"`
	Purpose            string
	Topic              string
	Keywords           datatypes.JSON `gorm:"type:jsonb"`
	Length             string
	ExtraPrompt        string
	ReferencesProvided bool `gorm:"not null"`
	TitleCandidate     string
	Status             string    `gorm:"not null"`
	Error              string
	Stage              string
	CreatedAt          time.Time `gorm:"not null;index:idx_generation_index_uid_created,priority:2,sort:desc"`
}
