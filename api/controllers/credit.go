package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukalink/dukalink-backend/api/responses"
	"github.com/dukalink/dukalink-backend/api/validators"
	"github.com/dukalink/dukalink-backend/internal/credit"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

type reserveCreditRequest struct {
	RetailerStoreID   uuid.UUID       `json:"retailer_store_id" validate:"required"`
	WholesalerStoreID uuid.UUID       `json:"wholesaler_store_id" validate:"required"`
	OrderID           uuid.UUID       `json:"order_id" validate:"required"`
	Amount            decimal.Decimal `json:"amount" validate:"required"`
}

type reverseCreditRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Reason  string    `json:"reason" validate:"required,max=500"`
}

type recordPaymentRequest struct {
	RetailerStoreID   uuid.UUID       `json:"retailer_store_id" validate:"required"`
	WholesalerStoreID uuid.UUID       `json:"wholesaler_store_id" validate:"required"`
	OrderID           uuid.UUID       `json:"order_id"`
	Amount            decimal.Decimal `json:"amount" validate:"required"`
	Reference         string          `json:"reference" validate:"max=200"`
}

// CreditReserve places a hold against a pair's headroom for one order.
func CreditReserve(svc credit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req reserveCreditRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entry, err := svc.Reserve(ctx, credit.ReserveInput{
			RetailerStoreID:   req.RetailerStoreID,
			WholesalerStoreID: req.WholesalerStoreID,
			OrderID:           req.OrderID,
			Amount:            req.Amount,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

// CreditReverse posts the compensating entry for an order's debit.
func CreditReverse(svc credit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req reverseCreditRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Reverse(ctx, req.OrderID, req.Reason); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "reversed"})
	}
}

// CreditExposure reports a pair's live limit, balance, and headroom.
func CreditExposure(svc credit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		retailerID, err := uuid.Parse(chi.URLParam(r, "retailerID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid retailer id"))
			return
		}
		wholesalerID, err := uuid.Parse(chi.URLParam(r, "wholesalerID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid wholesaler id"))
			return
		}

		exposure, err := svc.Exposure(ctx, retailerID, wholesalerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, exposure)
	}
}

// CreditRecordPayment registers a repayment against a pair's balance.
func CreditRecordPayment(svc credit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req recordPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entry, err := svc.RecordPayment(ctx, credit.PaymentInput{
			RetailerStoreID:   req.RetailerStoreID,
			WholesalerStoreID: req.WholesalerStoreID,
			OrderID:           req.OrderID,
			Amount:            req.Amount,
			Reference:         req.Reference,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}
