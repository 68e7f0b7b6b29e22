package controllers

import (
	"net/http"
	"strconv"

	"github.com/dukalink/dukalink-backend/api/responses"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

// QueueDepths reports pending job counts per queue.
func QueueDepths(repo queue.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		depths := map[string]int64{}
		for _, q := range enums.AllQueues() {
			count, err := repo.CountPending(ctx, q)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			depths[q.String()] = count
		}

		responses.WriteSuccess(w, depths)
	}
}

// DeadLetters lists recent dead-letter records, optionally filtered by queue.
func DeadLetters(repo queue.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var queueName enums.QueueName
		if raw := r.URL.Query().Get("queue"); raw != "" {
			parsed, err := enums.ParseQueueName(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid queue"))
				return
			}
			queueName = parsed
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > 500 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be between 1 and 500"))
				return
			}
			limit = parsed
		}

		dead, err := repo.ListDeadLetters(ctx, queueName, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, dead)
	}
}
