package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	red "async-inference-ledger/internal/infra/redis"
	"async-inference-ledger/internal/usecase"
)

const idempotencyHeader = "Idempotency-Key"

type submitJobRequest struct {
	TaskType   string         `json:"task_type"`
	ModelID    string         `json:"model_id"`
	ImageURL   string         `json:"image_url,omitempty"`
	Prompt     string         `json:"prompt,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	CreditCost int64          `json:"credit_cost"`
}

type submitJobResponse struct {
	PredictionID string `json:"prediction_id"`
	JobID        string `json:"job_id"`
	Replayed     bool   `json:"replayed,omitempty"`
}

type jobResponse struct {
	PredictionID string          `json:"prediction_id"`
	TaskType     string          `json:"task_type"`
	ModelID      string          `json:"model_id"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func (req submitJobRequest) input() map[string]any {
	in := make(map[string]any, len(req.Input)+2)
	for k, v := range req.Input {
		in[k] = v
	}
	if req.ImageURL != "" {
		in["image"] = req.ImageURL
	}
	if req.Prompt != "" {
		in["prompt"] = req.Prompt
	}
	return in
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(r)

	if s.limiter != nil && s.submitPerMinute > 0 {
		allowed, err := s.limiter.Allow(ctx, red.SubmitKey(uid), s.submitPerMinute, time.Minute)
		if err != nil {
			// fail open
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many submissions, retry later")
			return
		}
	}

	var req submitJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid request body")
		return
	}

	res, err := s.submitter.Submit(ctx, usecase.SubmitRequest{
		UserID:         uid,
		TaskType:       model.TaskType(strings.ToLower(strings.TrimSpace(req.TaskType))),
		ModelID:        strings.TrimSpace(req.ModelID),
		Input:          req.input(),
		CreditCost:     req.CreditCost,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	})
	if err != nil {
		writeDomainError(ctx, s.log, w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, submitJobResponse{PredictionID: res.PredictionID, JobID: res.JobID, Replayed: res.Replayed})
}

// handleGetJob returns the stored job. With ?poll=1 an unfinished job is
// first synced from the provider; a poll that times out still returns the
// current state.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(r)
	pid := chi.URLParam(r, "predictionID")

	job, err := s.jobs.Get(ctx, uid, pid)
	if err != nil {
		writeDomainError(ctx, s.log, w, err)
		return
	}

	if wantsPoll(r) && !job.IsTerminal() && s.poller != nil {
		if _, err := s.poller.Poll(ctx, pid, s.pollTimeout); err != nil && !errors.Is(err, domain.ErrPollingTimedOut) {
			writeDomainError(ctx, s.log, w, err)
			return
		}
		if job, err = s.jobs.Get(ctx, uid, pid); err != nil {
			writeDomainError(ctx, s.log, w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func wantsPoll(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("poll")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func toJobResponse(j *model.PredictionJob) jobResponse {
	resp := jobResponse{
		PredictionID: j.PredictionID,
		TaskType:     string(j.TaskType),
		ModelID:      j.ModelID,
		Status:       string(j.Status),
		Progress:     j.Progress(),
		Error:        j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
	if j.Status == model.JobStatusCompleted && len(j.Output) > 0 {
		resp.Result = j.Output
	}
	return resp
}
