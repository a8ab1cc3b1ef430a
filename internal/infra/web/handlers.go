package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"
	"crm-job-engine/internal/usecase"

	"github.com/go-chi/chi/v5"
)

// jobView is the wire representation of a job. Payload bytes are reported
// by size only; the ops surface never needs the raw payload.
type jobView struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	Attempts      int        `json:"attempts"`
	BatchID       string     `json:"batch_id"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	PayloadBytes  int        `json:"payload_bytes"`
	FailureKind   string     `json:"failure_kind,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	NotBefore     *time.Time `json:"not_before,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toJobView(j *model.Job) *jobView {
	return &jobView{
		ID:            j.ID,
		UserID:        j.UserID,
		Kind:          string(j.Kind),
		Status:        string(j.Status),
		Priority:      j.Priority,
		Attempts:      j.Attempts,
		BatchID:       j.BatchID,
		ClaimedBy:     j.ClaimedBy,
		PayloadBytes:  len(j.Payload),
		FailureKind:   string(j.FailureKind),
		FailureReason: j.FailureReason,
		FailedAt:      j.FailedAt,
		NotBefore:     j.NotBefore,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sessionCreateHandler mints an operator session token. The caller already
// passed the API-key check.
func sessionCreateHandler(auth *AuthManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.Mint(w)
		if err != nil {
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Token string `json:"token"`
		}{Token: token})
	}
}

func sessionDeleteHandler(auth *AuthManager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		auth.Clear(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

func statusHandler(statsUC usecase.StatsUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := statsUC.Status(r.Context())
		if err != nil {
			http.Error(w, "Failed to get queue status", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func dashboardHandler(statsUC usecase.StatsUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := statsUC.Dashboard(r.Context())
		if err != nil {
			http.Error(w, "Failed to build dashboard report", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type controlRequest struct {
	Action string `json:"action"`
	JobID  string `json:"job_id,omitempty"`
	Params struct {
		Priority int    `json:"priority,omitempty"`
		UserID   string `json:"user_id,omitempty"`
		Kind     string `json:"kind,omitempty"`
	} `json:"params,omitempty"`
}

// controlHandler dispatches operator actions. Job-scoped actions require
// job_id; reset_chain requires params.user_id and params.kind.
func controlHandler(controlUC usecase.ControlUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		var err error
		switch req.Action {
		case "start":
			err = controlUC.Start(ctx)
		case "stop":
			err = controlUC.Stop(ctx)
		case "restart":
			err = controlUC.Restart(ctx)
		case "pause":
			err = controlUC.Pause(ctx)
		case "resume":
			err = controlUC.Resume(ctx)
		case "retry":
			err = controlUC.Retry(ctx, req.JobID)
		case "cancel":
			err = controlUC.Cancel(ctx, req.JobID)
		case "prioritize":
			err = controlUC.Prioritize(ctx, req.JobID, req.Params.Priority)
		case "reset_chain":
			err = controlUC.ResetChain(ctx, req.Params.UserID, model.JobKind(req.Params.Kind))
		case "cleanup":
			err = controlUC.Cleanup(ctx)
		default:
			http.Error(w, "Unknown action", http.StatusBadRequest)
			return
		}

		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				http.NotFound(w, r)
			case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownKind):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domain.ErrInvalidTransition):
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				http.Error(w, "Action failed", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Action string `json:"action"`
			Result string `json:"result"`
		}{Action: req.Action, Result: "ok"})
	}
}

type jobCreateRequest struct {
	UserID  string          `json:"user_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	BatchID string          `json:"batch_id,omitempty"`
}

func jobsCreateHandler(enqueueUC usecase.EnqueueUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req jobCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		job, err := enqueueUC.Enqueue(ctx, req.UserID, model.JobKind(req.Kind), req.Payload, req.BatchID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrPayloadTooLarge):
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			case errors.Is(err, domain.ErrUnknownKind), errors.Is(err, domain.ErrInvalidArgument):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "Failed to enqueue job", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, toJobView(job))
	}
}

func jobGetHandler(jobs repository.JobRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := chi.URLParam(r, "jobID")
		if id == "" {
			http.Error(w, "Job ID is required", http.StatusBadRequest)
			return
		}

		job, err := jobs.FindByID(ctx, nil, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Failed to get job", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toJobView(job))
	}
}
