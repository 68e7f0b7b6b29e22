package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/dukalink/dukalink-backend/api/responses"
	"github.com/dukalink/dukalink-backend/api/validators"
	"github.com/dukalink/dukalink-backend/internal/ingest"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

type inboundMessageRequest struct {
	ProviderMessageID string          `json:"provider_message_id" validate:"required,max=200"`
	Sender            string          `json:"sender" validate:"required,max=200"`
	Payload           json.RawMessage `json:"payload" validate:"required"`
}

// MessagesIngest admits one gateway message into the pipeline. The gateway
// normally delivers over Pub/Sub; this endpoint is the HTTP fallback and the
// local-dev path.
func MessagesIngest(svc ingest.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req inboundMessageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Enqueue(ctx, req.ProviderMessageID, req.Sender, req.Payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if result.Duplicate {
			responses.WriteSuccess(w, map[string]any{"status": "duplicate"})
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"status": "queued",
			"job_id": result.Job.ID,
		})
	}
}
