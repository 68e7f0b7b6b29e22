package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukalink/dukalink-backend/api/responses"
	"github.com/dukalink/dukalink-backend/api/validators"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

type createOrderRequest struct {
	RetailerStoreID       uuid.UUID                `json:"retailer_store_id" validate:"required"`
	PreferredWholesalerID uuid.UUID                `json:"preferred_wholesaler_id" validate:"required"`
	Items                 []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createOrderItemRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Qty       int             `json:"qty" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"required"`
}

type transitionOrderRequest struct {
	Target string `json:"target" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// OrderCreate registers a new purchase request.
func OrderCreate(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]orders.CreateItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, orders.CreateItemInput{
				ProductID: item.ProductID,
				Qty:       item.Qty,
				UnitPrice: item.UnitPrice,
			})
		}

		order, err := svc.Create(ctx, orders.CreateInput{
			RetailerStoreID:       req.RetailerStoreID,
			PreferredWholesalerID: req.PreferredWholesalerID,
			Items:                 items,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// OrderGet returns one order with its items.
func OrderGet(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		order, err := svc.Get(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

// OrderTransition applies one lifecycle edge with its side effects.
func OrderTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		var req transitionOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(req.Target)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		order, err := svc.Transition(ctx, orders.TransitionInput{
			OrderID: orderID,
			Target:  target,
			Reason:  req.Reason,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

// OrderValidateTransition dry-runs a transition without applying it.
func OrderValidateTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		var req transitionOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(req.Target)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		result, err := svc.Validate(ctx, orderID, target)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
