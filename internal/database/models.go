package database

import "time"

// Project statuses.
const (
	StatusCopying = "copying"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Project records one bootstrap of a session prefix from a template.
type Project struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"uniqueIndex;not null" json:"session_id"`
	Template  string    `gorm:"not null" json:"template"`
	Status    string    `gorm:"not null;default:copying" json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
