package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
)

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// handlerOrderSvc scripts the lifecycle calls a handler makes. transitionErr
// keys on the target status so one step can be made to fail.
type handlerOrderSvc struct {
	order         *models.Order
	created       []orders.CreateInput
	transitions   []orders.TransitionInput
	transitionErr map[enums.OrderStatus]error
}

func (s *handlerOrderSvc) Create(ctx context.Context, input orders.CreateInput) (*models.Order, error) {
	return s.CreateInTx(ctx, nil, input)
}

func (s *handlerOrderSvc) CreateInTx(ctx context.Context, tx *gorm.DB, input orders.CreateInput) (*models.Order, error) {
	s.created = append(s.created, input)
	total := decimal.Zero
	for _, item := range input.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	s.order = &models.Order{
		ID:                    uuid.New(),
		RetailerStoreID:       input.RetailerStoreID,
		PreferredWholesalerID: input.PreferredWholesalerID,
		TotalAmount:           total,
		Status:                enums.OrderStatusCreated,
	}
	return s.order, nil
}

func (s *handlerOrderSvc) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != orderID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	copied := *s.order
	return &copied, nil
}

func (s *handlerOrderSvc) Transition(ctx context.Context, input orders.TransitionInput) (*models.Order, error) {
	s.transitions = append(s.transitions, input)
	if err := s.transitionErr[input.Target]; err != nil {
		return nil, err
	}
	s.order.Status = input.Target
	if input.Reason != "" {
		reason := input.Reason
		s.order.FailureReason = &reason
	}
	copied := *s.order
	return &copied, nil
}

func (s *handlerOrderSvc) TransitionInTx(ctx context.Context, tx *gorm.DB, input orders.TransitionInput) (*models.Order, error) {
	return s.Transition(ctx, input)
}

func (s *handlerOrderSvc) Validate(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus) (*orders.ValidationResult, error) {
	return nil, nil
}

func (s *handlerOrderSvc) RepairDeliveredDebit(ctx context.Context, orderID uuid.UUID) error {
	return nil
}

type handlerBiddingSvc struct {
	routed []uuid.UUID
}

func (s *handlerBiddingSvc) RouteOrder(ctx context.Context, orderID uuid.UUID, window time.Duration) ([]uuid.UUID, error) {
	s.routed = append(s.routed, orderID)
	return []uuid.UUID{uuid.New()}, nil
}

func (s *handlerBiddingSvc) SubmitOffer(ctx context.Context, input bidding.SubmitOfferInput) (*models.VendorOffer, error) {
	return nil, nil
}

func (s *handlerBiddingSvc) SelectWinner(ctx context.Context, orderID uuid.UUID) (*models.VendorOffer, error) {
	return nil, nil
}

func (s *handlerBiddingSvc) OffersForOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorOffer, error) {
	return nil, nil
}

func (s *handlerBiddingSvc) ExpireStaleOffers(ctx context.Context, limit int) (int64, error) {
	return 0, nil
}

type enqueuedJob struct {
	queue   enums.QueueName
	payload any
}

type handlerQueueSvc struct {
	enqueued []enqueuedJob
}

func (s *handlerQueueSvc) Enqueue(ctx context.Context, tx *gorm.DB, queueName enums.QueueName, payload any, priority int) (*models.Job, error) {
	s.enqueued = append(s.enqueued, enqueuedJob{queue: queueName, payload: payload})
	return &models.Job{ID: uuid.New(), Queue: queueName}, nil
}

func (s *handlerQueueSvc) Settle(ctx context.Context, job *models.Job, handleErr error) error {
	return nil
}

func (s *handlerQueueSvc) replies() []queue.ReplyPayload {
	var out []queue.ReplyPayload
	for _, e := range s.enqueued {
		if e.queue == enums.QueueReply {
			out = append(out, e.payload.(queue.ReplyPayload))
		}
	}
	return out
}

func jobWithPayload(t *testing.T, queueName enums.QueueName, payload any) *models.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &models.Job{ID: uuid.New(), Queue: queueName, Payload: body}
}

func TestIngestHandlerRejectsMalformedPayload(t *testing.T) {
	h, err := NewIngestHandler(passthroughTxRunner{}, &handlerOrderSvc{}, &handlerQueueSvc{}, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	job := &models.Job{ID: uuid.New(), Queue: enums.QueueIngest, Payload: []byte(`not json`)}
	handleErr := h.Handle(context.Background(), job)
	if typed := pkgerrors.As(handleErr); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", handleErr)
	}

	body, _ := json.Marshal(queue.IngestPayload{MessageID: "wamid.1", Sender: "+254700000001", Body: json.RawMessage(`"not an order"`)})
	job = &models.Job{ID: uuid.New(), Queue: enums.QueueIngest, Payload: body}
	handleErr = h.Handle(context.Background(), job)
	if typed := pkgerrors.As(handleErr); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for bad body, got %v", handleErr)
	}
}

func TestIngestHandlerCreatesOrderAndFansOut(t *testing.T) {
	orderSvc := &handlerOrderSvc{}
	queueSvc := &handlerQueueSvc{}
	h, err := NewIngestHandler(passthroughTxRunner{}, orderSvc, queueSvc, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	request := queue.OrderRequest{
		RetailerStoreID:       uuid.New(),
		PreferredWholesalerID: uuid.New(),
		Items: []queue.OrderRequestItem{
			{ProductID: uuid.New(), Qty: 3, UnitPrice: decimal.NewFromInt(1500)},
		},
	}
	body, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	job := jobWithPayload(t, enums.QueueIngest, queue.IngestPayload{
		MessageID: "wamid.1",
		Sender:    "+254700000001",
		Body:      body,
	})

	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(orderSvc.created) != 1 {
		t.Fatalf("expected 1 order created, got %d", len(orderSvc.created))
	}
	if len(queueSvc.enqueued) != 2 {
		t.Fatalf("expected order-processing and reply jobs, got %d", len(queueSvc.enqueued))
	}
	if queueSvc.enqueued[0].queue != enums.QueueOrderProcessing {
		t.Fatalf("expected order-processing job first, got %s", queueSvc.enqueued[0].queue)
	}
	replies := queueSvc.replies()
	if len(replies) != 1 || replies[0].Recipient != "+254700000001" {
		t.Fatalf("expected acknowledgement to the sender, got %+v", replies)
	}
}

func TestOrderProcessingHandlerAdvancesAndRoutes(t *testing.T) {
	orderSvc := &handlerOrderSvc{order: &models.Order{
		ID:     uuid.New(),
		Status: enums.OrderStatusCreated,
	}}
	biddingSvc := &handlerBiddingSvc{}
	h, err := NewOrderProcessingHandler(orderSvc, biddingSvc, &handlerQueueSvc{}, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	job := jobWithPayload(t, enums.QueueOrderProcessing, queue.OrderPayload{OrderID: orderSvc.order.ID})
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(orderSvc.transitions) != 2 {
		t.Fatalf("expected credit and stock transitions, got %d", len(orderSvc.transitions))
	}
	if orderSvc.transitions[0].Target != enums.OrderStatusCreditApproved ||
		orderSvc.transitions[1].Target != enums.OrderStatusStockReserved {
		t.Fatalf("unexpected transition order: %+v", orderSvc.transitions)
	}
	if len(biddingSvc.routed) != 1 {
		t.Fatalf("expected bidding round opened, got %d", len(biddingSvc.routed))
	}
}

func TestOrderProcessingHandlerResumesMidLifecycle(t *testing.T) {
	orderSvc := &handlerOrderSvc{order: &models.Order{
		ID:     uuid.New(),
		Status: enums.OrderStatusStockReserved,
	}}
	biddingSvc := &handlerBiddingSvc{}
	h, _ := NewOrderProcessingHandler(orderSvc, biddingSvc, &handlerQueueSvc{}, nil)

	job := jobWithPayload(t, enums.QueueOrderProcessing, queue.OrderPayload{OrderID: orderSvc.order.ID})
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(orderSvc.transitions) != 0 {
		t.Fatal("replayed job must not rerun earlier transitions")
	}
	if len(biddingSvc.routed) != 1 {
		t.Fatal("replayed job must still open the round")
	}
}

func TestOrderProcessingHandlerSkipsRoutingWhenWinnerAssigned(t *testing.T) {
	winner := uuid.New()
	orderSvc := &handlerOrderSvc{order: &models.Order{
		ID:                uuid.New(),
		Status:            enums.OrderStatusStockReserved,
		WholesalerStoreID: &winner,
	}}
	biddingSvc := &handlerBiddingSvc{}
	h, _ := NewOrderProcessingHandler(orderSvc, biddingSvc, &handlerQueueSvc{}, nil)

	job := jobWithPayload(t, enums.QueueOrderProcessing, queue.OrderPayload{OrderID: orderSvc.order.ID})
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(biddingSvc.routed) != 0 {
		t.Fatal("decided order must not be re-routed")
	}
}

func TestOrderProcessingHandlerFailsOrderOnBusinessRejection(t *testing.T) {
	orderSvc := &handlerOrderSvc{
		order: &models.Order{ID: uuid.New(), RetailerStoreID: uuid.New(), Status: enums.OrderStatusCreated},
		transitionErr: map[enums.OrderStatus]error{
			enums.OrderStatusCreditApproved: pkgerrors.New(pkgerrors.CodeInsufficientCredit, "credit limit exceeded"),
		},
	}
	queueSvc := &handlerQueueSvc{}
	h, _ := NewOrderProcessingHandler(orderSvc, &handlerBiddingSvc{}, queueSvc, nil)

	job := jobWithPayload(t, enums.QueueOrderProcessing, queue.OrderPayload{OrderID: orderSvc.order.ID})
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("business rejection must complete the job, got %v", err)
	}

	last := orderSvc.transitions[len(orderSvc.transitions)-1]
	if last.Target != enums.OrderStatusFailed || last.Reason != "credit limit exceeded" {
		t.Fatalf("expected order failed with rejection reason, got %+v", last)
	}
	replies := queueSvc.replies()
	if len(replies) != 1 {
		t.Fatalf("expected a rejection reply, got %d", len(replies))
	}
}

func TestOrderProcessingHandlerPropagatesRetryableErrors(t *testing.T) {
	orderSvc := &handlerOrderSvc{
		order: &models.Order{ID: uuid.New(), Status: enums.OrderStatusCreated},
		transitionErr: map[enums.OrderStatus]error{
			enums.OrderStatusCreditApproved: pkgerrors.New(pkgerrors.CodeDependency, "store unavailable"),
		},
	}
	h, _ := NewOrderProcessingHandler(orderSvc, &handlerBiddingSvc{}, &handlerQueueSvc{}, nil)

	job := jobWithPayload(t, enums.QueueOrderProcessing, queue.OrderPayload{OrderID: orderSvc.order.ID})
	err := h.Handle(context.Background(), job)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error back for retry, got %v", err)
	}
	// The order itself must not be failed over a transient outage.
	for _, tr := range orderSvc.transitions {
		if tr.Target == enums.OrderStatusFailed {
			t.Fatal("transient failure must not fail the order")
		}
	}
}

func TestVendorRoutingHandlerSendsBidRequest(t *testing.T) {
	expires := time.Now().UTC().Add(10 * time.Minute)
	orderSvc := &handlerOrderSvc{order: &models.Order{
		ID:           uuid.New(),
		Status:       enums.OrderStatusStockReserved,
		TotalAmount:  decimal.NewFromInt(9000),
		BidExpiresAt: &expires,
		Items:        []models.OrderItem{{ProductID: uuid.New(), Qty: 3}},
	}}
	queueSvc := &handlerQueueSvc{}
	h, err := NewVendorRoutingHandler(orderSvc, queueSvc, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	wholesalerID := uuid.New()
	job := jobWithPayload(t, enums.QueueVendorRouting, queue.VendorRoutingPayload{
		OrderID:           orderSvc.order.ID,
		WholesalerStoreID: wholesalerID,
	})
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	replies := queueSvc.replies()
	if len(replies) != 1 {
		t.Fatalf("expected 1 bid request, got %d", len(replies))
	}
	if replies[0].Recipient != wholesalerID.String() {
		t.Fatalf("expected bid request to the wholesaler, got %s", replies[0].Recipient)
	}
	if replies[0].Meta["kind"] != "bid_request" {
		t.Fatalf("expected bid_request meta, got %v", replies[0].Meta)
	}
}

func TestVendorRoutingHandlerNoopOnDecidedOrExpiredRounds(t *testing.T) {
	winner := uuid.New()
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Minute)

	cases := []struct {
		name  string
		order models.Order
	}{
		{name: "winner already assigned", order: models.Order{Status: enums.OrderStatusStockReserved, WholesalerStoreID: &winner, BidExpiresAt: &future}},
		{name: "window expired", order: models.Order{Status: enums.OrderStatusStockReserved, BidExpiresAt: &past}},
		{name: "window never opened", order: models.Order{Status: enums.OrderStatusStockReserved}},
		{name: "order moved on", order: models.Order{Status: enums.OrderStatusFailed, BidExpiresAt: &future}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := tc.order
			order.ID = uuid.New()
			orderSvc := &handlerOrderSvc{order: &order}
			queueSvc := &handlerQueueSvc{}
			h, _ := NewVendorRoutingHandler(orderSvc, queueSvc, nil)

			job := jobWithPayload(t, enums.QueueVendorRouting, queue.VendorRoutingPayload{
				OrderID:           order.ID,
				WholesalerStoreID: uuid.New(),
			})
			if err := h.Handle(context.Background(), job); err != nil {
				t.Fatalf("stale solicitation must be a no-op, got %v", err)
			}
			if len(queueSvc.enqueued) != 0 {
				t.Fatal("stale solicitation must not send a bid request")
			}
		})
	}
}

type recordingPublisher struct {
	data  [][]byte
	attrs []map[string]string
	err   error
}

func (p *recordingPublisher) PublishReply(ctx context.Context, data []byte, attrs map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.data = append(p.data, data)
	p.attrs = append(p.attrs, attrs)
	return nil
}

func TestReplyHandlerPublishesWithAttributes(t *testing.T) {
	publisher := &recordingPublisher{}
	h, err := NewReplyHandler(publisher, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	orderID := uuid.New()
	job := jobWithPayload(t, enums.QueueReply, queue.ReplyPayload{
		Recipient: "+254700000001",
		Body:      "Order received.",
		OrderID:   &orderID,
		Meta:      map[string]string{"kind": "ack"},
	})
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(publisher.attrs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(publisher.attrs))
	}
	attrs := publisher.attrs[0]
	if attrs["recipient"] != "+254700000001" || attrs["order_id"] != orderID.String() || attrs["kind"] != "ack" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestReplyHandlerRejectsMissingRecipient(t *testing.T) {
	h, _ := NewReplyHandler(&recordingPublisher{}, nil)

	job := jobWithPayload(t, enums.QueueReply, queue.ReplyPayload{Body: "orphaned"})
	err := h.Handle(context.Background(), job)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReplyHandlerPublishFailureIsRetryable(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("deadline exceeded")}
	h, _ := NewReplyHandler(publisher, nil)

	job := jobWithPayload(t, enums.QueueReply, queue.ReplyPayload{Recipient: "+254700000001", Body: "hi"})
	err := h.Handle(context.Background(), job)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatal("gateway outages must be retryable")
	}
}
