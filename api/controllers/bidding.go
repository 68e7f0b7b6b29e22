package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukalink/dukalink-backend/api/responses"
	"github.com/dukalink/dukalink-backend/api/validators"
	"github.com/dukalink/dukalink-backend/internal/bidding"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

type routeOrderRequest struct {
	WindowSeconds int `json:"window_seconds" validate:"min=0"`
}

type submitOfferRequest struct {
	WholesalerStoreID uuid.UUID       `json:"wholesaler_store_id" validate:"required"`
	Price             decimal.Decimal `json:"price" validate:"required"`
	TermsDays         int             `json:"terms_days" validate:"min=0"`
	IdempotencyKey    string          `json:"idempotency_key" validate:"required,max=200"`
}

// BiddingRoute opens the bid window and fans out solicitations.
func BiddingRoute(svc bidding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		var req routeOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		routed, err := svc.RouteOrder(ctx, orderID, time.Duration(req.WindowSeconds)*time.Second)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"order_id":           orderID,
			"routed_wholesalers": routed,
		})
	}
}

// BiddingSubmitOffer records one wholesaler's bid.
func BiddingSubmitOffer(svc bidding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		var req submitOfferRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		offer, err := svc.SubmitOffer(ctx, bidding.SubmitOfferInput{
			OrderID:           orderID,
			WholesalerStoreID: req.WholesalerStoreID,
			Price:             req.Price,
			TermsDays:         req.TermsDays,
			IdempotencyKey:    req.IdempotencyKey,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, offer)
	}
}

// BiddingSelectWinner resolves the round for an order.
func BiddingSelectWinner(svc bidding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		winner, err := svc.SelectWinner(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if winner == nil {
			responses.WriteSuccess(w, map[string]any{
				"order_id": orderID,
				"winner":   nil,
			})
			return
		}
		responses.WriteSuccess(w, winner)
	}
}

// BiddingListOffers returns every offer submitted for an order.
func BiddingListOffers(svc bidding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		offers, err := svc.OffersForOrder(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, offers)
	}
}
