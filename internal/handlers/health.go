package handlers

import (
	"net/http"

	"github.com/gluk-w/devsync/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := database.Ping(); err != nil {
		dbStatus = "disconnected"
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	resp := map[string]interface{}{
		"status":   status,
		"database": dbStatus,
	}
	if Engine != nil {
		resp["pool_size"] = Engine.Size()
		if last, ok := Engine.LastSummary(); ok {
			resp["last_reconcile"] = last.FinishedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
