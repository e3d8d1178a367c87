package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mailpipe/internal/csvparser"
	"mailpipe/internal/dispatch"
	"mailpipe/internal/models"
	"mailpipe/internal/scheduler"
)

const maxBulkRows = 1000

// QueueViewer is the read surface behind the observability endpoints.
type QueueViewer interface {
	CountByStatus(ctx context.Context) (map[models.EmailStatus]int64, error)
	ListRecent(ctx context.Context, limit int) ([]models.EmailJob, error)
}

type Handler struct {
	Dispatcher *dispatch.Service
	Trigger    *scheduler.Trigger
	Queue      QueueViewer
	Log        *zap.Logger
}

type dispatchRequest struct {
	ToEmail      string            `json:"to_email"`
	TemplateType string            `json:"template_type"`
	Variables    map[string]string `json:"variables"`
	DelayHours   int               `json:"delay_hours"`
}

// DispatchEmail accepts a send request. delay_hours = 0 sends synchronously
// within the request; anything later becomes a real queued job.
func (h *Handler) DispatchEmail(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ToEmail == "" || req.TemplateType == "" {
		writeError(w, http.StatusBadRequest, "to_email and template_type are required")
		return
	}
	if req.DelayHours < 0 {
		writeError(w, http.StatusBadRequest, "delay_hours must not be negative")
		return
	}

	if req.DelayHours == 0 {
		messageID, err := h.Dispatcher.SendNow(r.Context(), req.ToEmail, req.TemplateType, req.Variables)
		if err != nil {
			h.Log.Error("immediate send failed",
				zap.String("to", req.ToEmail),
				zap.Error(err),
			)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message_id": messageID,
		})
		return
	}

	delay := time.Duration(req.DelayHours) * time.Hour
	jobID, scheduledFor, err := h.Dispatcher.Schedule(r.Context(), req.ToEmail, req.TemplateType, req.Variables, delay)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":        jobID,
		"scheduled_for": scheduledFor,
	})
}

// BulkEnqueue parses a recipient CSV from the request body and enqueues one
// job per row for the given template type.
func (h *Handler) BulkEnqueue(w http.ResponseWriter, r *http.Request) {
	templateType := r.URL.Query().Get("template_type")
	if templateType == "" {
		writeError(w, http.StatusBadRequest, "template_type query parameter is required")
		return
	}

	delayHours, err := queryInt(r, "delay_hours", 0)
	if err != nil || delayHours < 0 {
		writeError(w, http.StatusBadRequest, "invalid delay_hours")
		return
	}

	rows, err := csvparser.ParseRows(r.Body, maxBulkRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delay := time.Duration(delayHours) * time.Hour
	enqueued := 0
	for _, row := range rows {
		if _, _, err := h.Dispatcher.Schedule(r.Context(), row.Email, templateType, row.Variables, delay); err != nil {
			h.Log.Error("bulk enqueue failed",
				zap.String("to", row.Email),
				zap.Error(err),
			)
			continue
		}
		enqueued++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"enqueued": enqueued,
		"total":    len(rows),
	})
}

// QueueStats reports job counts by status.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Queue.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending":    counts[models.StatusPending],
		"processing": counts[models.StatusProcessing],
		"sent":       counts[models.StatusSent],
		"failed":     counts[models.StatusFailed],
	})
}

// RecentJobs lists the newest jobs with their state and last error.
func (h *Handler) RecentJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit <= 0 || limit > 200 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	jobs, err := h.Queue.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": jobs,
	})
}

// ProcessQueue is the manual trigger: run the worker now and report what is
// still pending.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	result, err := h.Trigger.Invoke(r.Context())
	if err != nil {
		h.Log.Error("manual trigger failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"process_result":    result.Process,
		"remaining_pending": result.RemainingPending,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
