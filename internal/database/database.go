package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ALOK9821/replit-clone/internal/config"
)

var DB *gorm.DB

// ErrNotFound is returned when no project exists for a session.
var ErrNotFound = errors.New("project not found")

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Project{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// BeginProject records that sessionID is being copied from template. Creating
// the same session again restarts its record.
func BeginProject(sessionID, template string) (*Project, error) {
	p := &Project{SessionID: sessionID, Template: template, Status: StatusCopying}
	err := DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"template": template, "status": StatusCopying, "error": ""}),
	}).Create(p).Error
	if err != nil {
		return nil, fmt.Errorf("begin project: %w", err)
	}
	return p, nil
}

// FinishProject sets the final status of a session's project. A nil copyErr
// marks it ready.
func FinishProject(sessionID string, copyErr error) error {
	updates := map[string]interface{}{"status": StatusReady, "error": ""}
	if copyErr != nil {
		updates["status"] = StatusFailed
		updates["error"] = copyErr.Error()
	}
	res := DB.Model(&Project{}).Where("session_id = ?", sessionID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finish project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProject returns the project for sessionID.
func GetProject(sessionID string) (*Project, error) {
	var p Project
	err := DB.Where("session_id = ?", sessionID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}
