package handlers

import (
	"net/http"

	"github.com/ALOK9821/replit-clone/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if database.DB != nil {
		dbStatus = "disconnected"
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	storeStatus := "unconfigured"
	if Mirror != nil {
		storeStatus = "configured"
	}

	status := "healthy"
	if dbStatus == "disconnected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":       status,
		"database":     dbStatus,
		"object_store": storeStatus,
	})
}
