// Package payments integrates the opaque payment gateway: order creation
// against the gateway's REST API, and payment confirmation that appends a
// receipt to the append-only ledger and applies the purchased plan.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// Plan catalogs. Amounts are in the currency's major unit; the gateway
// gets the smallest unit.
var subscriptionPlanDays = map[models.SubscriptionPlan]int{
	models.PlanMonthly:    30,
	models.PlanSemiAnnual: 180,
	models.PlanYearly:     365,
}

var apiPlanDays = map[models.APIPlan]int{
	models.APIPlanBasic: 180,
	models.APIPlanPro:   365,
}

// Gateway is the REST client of the payment provider. Order creation is
// the only outbound call; everything else arrives as confirmations.
type Gateway struct {
	client *resty.Client
}

// NewGateway creates a gateway client with basic auth credentials.
func NewGateway(baseURL, keyID, keySecret string) *Gateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(keyID, keySecret).
		SetTimeout(10 * time.Second)

	return &Gateway{client: client}
}

// CreateOrder asks the provider for a new order handle.
func (g *Gateway) CreateOrder(
	ctx context.Context,
	amount int64,
	currency string,
	receipt string,
) (models.Order, error) {
	var order models.Order

	response, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			// the gateway expects the smallest currency unit
			"amount":   amount * 100,
			"currency": currency,
			"receipt":  receipt,
		}).
		SetResult(&order).
		Post("/v1/orders")
	if err != nil {
		return models.Order{}, fmt.Errorf(
			"in internal/payments/payments.go/CreateOrder(): error while `g.client.R().Post()` calling: %w",
			err,
		)
	}
	if response.IsError() {
		return models.Order{}, fmt.Errorf(
			"payment gateway returned status %d",
			response.StatusCode(),
		)
	}

	return order, nil
}

type ledger interface {
	AppendPayment(ctx context.Context, record models.PaymentRecord) error
}

type subscriptionApplier interface {
	ApplySubscription(
		ctx context.Context,
		userID string,
		plan models.SubscriptionPlan,
		expiresAt models.Millis,
	) (*user.User, error)
}

type keyUpgrader interface {
	Upgrade(
		ctx context.Context,
		userID string,
		plan models.APIPlan,
		expiresAt models.Millis,
	) (*models.APIAccess, error)
}

// Service handles order creation and confirmation.
type Service struct {
	gateway  *Gateway
	db       ledger
	accounts subscriptionApplier
	keys     keyUpgrader
	clock    clock.Clock
}

// New creates a payments Service.
func New(
	gateway *Gateway,
	db ledger,
	accounts subscriptionApplier,
	keys keyUpgrader,
	clk clock.Clock,
) *Service {
	return &Service{
		gateway:  gateway,
		db:       db,
		accounts: accounts,
		keys:     keys,
		clock:    clk,
	}
}

// CreateOrder forwards an order request to the gateway.
func (s *Service) CreateOrder(
	ctx context.Context,
	req models.OrderRequest,
) (models.Order, error) {
	receipt := req.Receipt
	if receipt == "" {
		receipt = fmt.Sprintf("receipt_order_%d", s.clock.Now().UnixMilli())
	}

	return s.gateway.CreateOrder(ctx, req.Amount, req.Currency, receipt)
}

// Confirm records a gateway-confirmed payment and applies the purchased
// plan. The plan's expiry is computed as now plus the catalog duration and
// fully replaces any previous expiry.
func (s *Service) Confirm(
	ctx context.Context,
	usr *user.User,
	req models.ConfirmPaymentRequest,
) (models.PaymentRecord, error) {
	now := s.clock.Now()

	switch req.Kind {
	case models.PurchaseSubscription:
		plan := models.SubscriptionPlan(req.Plan)
		days, known := subscriptionPlanDays[plan]
		if !known {
			return models.PaymentRecord{}, fmt.Errorf(
				"%w: unknown subscription plan %q",
				models.ErrInvalidInput,
				req.Plan,
			)
		}
		expiresAt := models.MillisFromTime(now.Add(time.Duration(days) * 24 * time.Hour))
		if _, err := s.accounts.ApplySubscription(ctx, usr.ID, plan, expiresAt); err != nil {
			return models.PaymentRecord{}, err
		}

	case models.PurchaseAPIPlan:
		plan := models.APIPlan(req.Plan)
		days, known := apiPlanDays[plan]
		if !known {
			return models.PaymentRecord{}, fmt.Errorf(
				"%w: unknown API plan %q",
				models.ErrInvalidInput,
				req.Plan,
			)
		}
		expiresAt := models.MillisFromTime(now.Add(time.Duration(days) * 24 * time.Hour))
		if _, err := s.keys.Upgrade(ctx, usr.ID, plan, expiresAt); err != nil {
			return models.PaymentRecord{}, err
		}

	default:
		return models.PaymentRecord{}, fmt.Errorf(
			"%w: unknown purchase kind %q",
			models.ErrInvalidInput,
			req.Kind,
		)
	}

	record := models.PaymentRecord{
		ID:            uuid.New().String(),
		PaymentID:     req.PaymentID,
		UserID:        usr.ID,
		UserEmail:     usr.Email,
		Amount:        req.Amount,
		Currency:      req.Currency,
		DurationLabel: req.DurationLabel,
		CreatedAt:     models.MillisFromTime(now),
	}

	if err := s.db.AppendPayment(ctx, record); err != nil {
		return models.PaymentRecord{}, fmt.Errorf(
			"in internal/payments/payments.go/Confirm(): error while `s.db.AppendPayment()` calling: %w",
			err,
		)
	}

	return record, nil
}
