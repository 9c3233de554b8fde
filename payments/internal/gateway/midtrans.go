package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
	"go.uber.org/zap"

	"policypay/payments/internal/domain"
)

type MidtransConfig struct {
	ServerKey   string
	Environment string
}

type snapTransactor func(serverKey string, env midtrans.EnvironmentType, idempotencyKey string, req *snap.Request) (*snap.Response, *midtrans.Error)

// MidtransGateway creates Snap transactions. Midtrans identifies a
// transaction by its order_id, so that id doubles as the provider payment
// id and is derived from the idempotency key.
type MidtransGateway struct {
	serverKey string
	env       midtrans.EnvironmentType
	create    snapTransactor
	logger    *zap.Logger
}

func NewMidtransGateway(cfg MidtransConfig, logger *zap.Logger) (*MidtransGateway, error) {
	if cfg.ServerKey == "" {
		return nil, fmt.Errorf("%w: midtrans server key is empty", ErrMisconfigured)
	}

	env := midtrans.Sandbox
	switch strings.ToLower(cfg.Environment) {
	case "", "sandbox":
	case "production":
		env = midtrans.Production
	default:
		return nil, fmt.Errorf("%w: unknown midtrans environment %q", ErrMisconfigured, cfg.Environment)
	}

	return &MidtransGateway{
		serverKey: cfg.ServerKey,
		env:       env,
		create:    createSnapTransaction,
		logger:    logger,
	}, nil
}

func createSnapTransaction(serverKey string, env midtrans.EnvironmentType, idempotencyKey string, req *snap.Request) (*snap.Response, *midtrans.Error) {
	var c snap.Client
	c.New(serverKey, env)
	c.Options.SetPaymentIdempotencyKey(idempotencyKey)
	return c.CreateTransaction(req)
}

func (g *MidtransGateway) Provider() domain.Provider { return domain.ProviderMidtrans }

func (g *MidtransGateway) CreateSession(ctx context.Context, req SessionRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if !strings.EqualFold(req.Currency, "IDR") {
		return declined(fmt.Sprintf("currency %s is not supported by midtrans", req.Currency)), nil
	}

	orderID := MidtransOrderID(req.IdempotencyKey)
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: req.Amount.Round(0).IntPart(),
		},
	}

	resp, merr := g.create(g.serverKey, g.env, req.IdempotencyKey, snapReq)
	if merr != nil {
		g.logger.Warn("Midtrans snap transaction failed",
			zap.String("order_id", orderID),
			zap.Int("status_code", merr.StatusCode),
			zap.String("message", merr.Message))
		return classifyMidtransError(merr)
	}

	return &Result{Success: true, ProviderPaymentID: orderID, RedirectURL: resp.RedirectURL}, nil
}

func (g *MidtransGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	return nil, fmt.Errorf("%w: midtrans direct charge", ErrNotSupported)
}

func (g *MidtransGateway) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	return nil, fmt.Errorf("%w: midtrans refunds", ErrNotSupported)
}

// MidtransOrderID maps an idempotency key to a stable Midtrans order_id
// within the 50 character limit.
func MidtransOrderID(idempotencyKey string) string {
	return "pp-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(idempotencyKey)).String()
}

func classifyMidtransError(merr *midtrans.Error) (*Result, error) {
	switch {
	case merr.StatusCode == 0 || merr.StatusCode == http.StatusTooManyRequests || merr.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s", ErrConnectivity, merr.Message)
	case merr.StatusCode == http.StatusUnauthorized || merr.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrMisconfigured, merr.Message)
	default:
		return declined(merr.Message), nil
	}
}
