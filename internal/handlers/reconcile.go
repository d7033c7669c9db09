package handlers

import (
	"context"
	"net/http"
)

// TriggerReconcile runs one pass and returns its summary. A pass already in
// progress makes the request fail with 409 rather than queue.
func TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	// The pass finishes even if the client goes away.
	summary := Engine.Reconcile(context.WithoutCancel(r.Context()))
	if summary.Skipped {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"detail":  "Reconciliation already in progress",
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func GetLastReconcile(w http.ResponseWriter, r *http.Request) {
	summary, ok := Engine.LastSummary()
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation pass has completed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
