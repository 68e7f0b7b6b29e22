package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/dukalink/dukalink-backend/api/responses"
	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-DukaLink-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-DukaLink-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		deps := map[string]string{}
		healthy := true

		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				deps["db"] = "down"
				healthy = false
				if logg != nil {
					logg.Error(ctx, "readiness db ping failed", err)
				}
			} else {
				deps["db"] = "up"
			}
		}

		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				deps["redis"] = "down"
				healthy = false
				if logg != nil {
					logg.Error(ctx, "readiness redis ping failed", err)
				}
			} else {
				deps["redis"] = "up"
			}
		}

		status := http.StatusOK
		state := "ready"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"status":       state,
			"dependencies": deps,
		})
	}
}
