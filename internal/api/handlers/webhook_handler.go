package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "hookbridge/internal/api/context"
	"hookbridge/internal/engine/pipeline"
	"hookbridge/internal/pkg/errors"
)

type WebhookHandler struct {
	pipeline     *pipeline.Pipeline
	maxBodyBytes int64
}

func NewWebhookHandler(p *pipeline.Pipeline, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &WebhookHandler{pipeline: p, maxBodyBytes: maxBodyBytes}
}

// Receive handles POST /webhook/:subscription_id.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	subscriptionID := params.ByName("subscription_id")
	if subscriptionID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing subscription id", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodePayloadTooLarge, "Body too large", nil)
		return
	}

	// Processing outlives the request: a sender that hangs up early
	// must not abort filter evaluation or delivery midway.
	result, err := h.pipeline.Process(context.WithoutCancel(r.Context()), subscriptionID, r.Header, body)
	if err != nil {
		log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("webhook processing failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Processing failed", nil)
		return
	}

	switch result.Outcome {
	case pipeline.Accepted:
		errors.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case pipeline.Rejected:
		errors.WriteJSON(w, http.StatusForbidden, map[string]string{"error": result.Reason})
	case pipeline.NotFound:
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Unknown subscription", nil)
	}
}
