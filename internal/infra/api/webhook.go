package api

import (
	"errors"
	"io"
	"net/http"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/infra/adapters/replicate"
	"async-inference-ledger/internal/infra/logging"
	"async-inference-ledger/internal/infra/metrics"
	"async-inference-ledger/internal/infra/security"
	"async-inference-ledger/internal/usecase"
)

// Completed predictions may inline outputs as data URIs.
const maxWebhookBody = 8 << 20

// handleWebhook verifies the signature over the raw body before anything is
// parsed or looked up, then hands the status report to the reconciler.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.With(ctx, s.log)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		metrics.IncWebhookDelivery("too_large")
		log.Warn().Int64("limit", tooLarge.Limit).Msg("webhook rejected: body too large")
		writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "body too large")
		return
	}
	if err != nil {
		metrics.IncWebhookDelivery("bad_payload")
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "unreadable body")
		return
	}

	ok, err := security.VerifyWebhookSignature(body, r.Header.Get(security.SignatureHeader), s.webhookSecret)
	if err != nil {
		metrics.IncWebhookDelivery("error")
		log.Error().Err(err).Msg("webhook verification unavailable")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}
	if !ok {
		metrics.IncWebhookDelivery("bad_signature")
		log.Warn().Str("remote", r.RemoteAddr).Msg("webhook rejected: bad signature")
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, domain.ErrInvalidSignature.Error())
		return
	}

	pred, err := replicate.ParseWebhook(body)
	if err != nil {
		metrics.IncWebhookDelivery("bad_payload")
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
		return
	}

	out, err := s.reconciler.Reconcile(ctx, usecase.WebhookEvent{
		PredictionID: pred.ID,
		Status:       pred.Status,
		Output:       pred.Output,
		Error:        pred.Error,
		Source:       usecase.SourceWebhook,
	})
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		metrics.IncWebhookDelivery("not_found")
		log.Warn().Str("prediction_id", pred.ID).Msg("webhook for unknown prediction")
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	case err != nil:
		metrics.IncWebhookDelivery("error")
		writeDomainError(ctx, s.log, w, err)
		return
	}

	label := string(out)
	if out == usecase.OutcomeAlreadyProcessed {
		label = "duplicate"
	}
	metrics.IncWebhookDelivery(label)
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(out)})
}
