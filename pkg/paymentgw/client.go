package paymentgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Gateway-reported statuses.
const (
	StatusSucceeded       = "succeeded"
	StatusRequiresCapture = "requires_capture"
	StatusProcessing      = "processing"
	StatusRequiresAction  = "requires_action"
	StatusCanceled        = "canceled"
	StatusFailed          = "failed"
	StatusRefunded        = "refunded"
	StatusRefundPending   = "pending"
)

var ErrDeclined = errors.New("payment declined")

// DeclineError is returned when the gateway refused the charge.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrDeclined, e.Message, e.Code)
}

func (e *DeclineError) Is(target error) bool { return target == ErrDeclined }

// AuthorizeRequest is a card charge for the server-computed total.
type AuthorizeRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	MethodToken    string            `json:"payment_method"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// Authorization is the gateway's answer to a successful authorize call.
type Authorization struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

// RefundResult is the gateway's answer to a refund call.
type RefundResult struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Config holds payment gateway connection details.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the external payment gateway over HTTP. Calls are never
// retried here; a timeout is reported to the caller as is.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewClient creates a new payment gateway client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
	}
}

// Authorize charges the payment method for req.Amount.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	agent := c.agent(ctx, "/v1/authorizations")
	if req.IdempotencyKey != "" {
		agent.Set("Idempotency-Key", req.IdempotencyKey)
	}
	agent.JSON(req)

	var auth Authorization
	if err := c.do(agent, &auth); err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if auth.ID == "" {
		return nil, errors.New("authorize: gateway returned no authorization id")
	}
	log.Debug().Str("authorization_id", auth.ID).Str("status", auth.Status).Msg("payment authorized")
	return &auth, nil
}

// Refund returns the full amount of an authorization to the customer.
func (c *Client) Refund(ctx context.Context, authorizationID string) (*RefundResult, error) {
	agent := c.agent(ctx, "/v1/authorizations/"+authorizationID+"/refund")
	agent.Set("Idempotency-Key", "refund-"+authorizationID)

	var res RefundResult
	if err := c.do(agent, &res); err != nil {
		return nil, fmt.Errorf("refund %s: %w", authorizationID, err)
	}
	return &res, nil
}

func (c *Client) agent(ctx context.Context, path string) *fiber.Agent {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(c.baseURL + path)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.apiKey)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Timeout(timeout)
	return agent
}

func (c *Client) do(agent *fiber.Agent, out interface{}) error {
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("gateway request failed: %w", errors.Join(errs...))
	}

	switch {
	case code == fiber.StatusPaymentRequired:
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		return &DeclineError{Code: er.Error.Code, Message: er.Error.Message}
	case code < 200 || code > 299:
		return fmt.Errorf("gateway returned status %d: %s", code, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
