package api

import (
	"net/http"
	"strconv"
	"time"
)

type ledgerEntry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	PredictionID *string   `json:"prediction_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type creditsResponse struct {
	Balance int64         `json:"balance"`
	History []ledgerEntry `json:"history"`
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	balance, err := s.credits.Balance(ctx, uid)
	if err != nil {
		writeDomainError(ctx, s.log, w, err)
		return
	}
	history, err := s.credits.History(ctx, uid, limit)
	if err != nil {
		writeDomainError(ctx, s.log, w, err)
		return
	}

	resp := creditsResponse{Balance: balance, History: make([]ledgerEntry, 0, len(history))}
	for _, e := range history {
		resp.History = append(resp.History, ledgerEntry{
			ID:           e.ID,
			Type:         string(e.Type),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			Reason:       e.Reason,
			PredictionID: e.PredictionID,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
