package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"orderflow/internal/model"
)

// BetaClient talks to the beta gateway. Same contract as alfa, different
// wire dialect.
type BetaClient struct {
	baseURL string
	client  *http.Client
}

func NewBetaClient(baseURL string, timeout time.Duration) *BetaClient {
	return &BetaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *BetaClient) Name() string { return model.GatewayBeta }

type betaChargeRequest struct {
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Token     string  `json:"token"`
	Email     string  `json:"email"`
}

type betaChargeResponse struct {
	PaymentID string `json:"payment_id"`
	State     string `json:"state"` // success, declined, pending
	Message   string `json:"message"`
}

func (c *BetaClient) Charge(ctx context.Context, req ChargeRequest) Outcome {
	body, err := json.Marshal(betaChargeRequest{
		Reference: req.ExternalRef,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Token:     req.CardToken,
		Email:     req.Email,
	})
	if err != nil {
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/charges", bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("do request: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var res betaChargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Outcome{Kind: Unknown, Reason: fmt.Sprintf("decode response: %v", err)}
		}
		return classifyBeta(res)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusPaymentRequired:
		var res betaChargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Outcome{Kind: Declined, Reason: "payment declined"}
		}
		return Outcome{Kind: Declined, ProviderPaymentID: res.PaymentID, Reason: res.Message}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("gateway status %d", resp.StatusCode)}
	default:
		return Outcome{Kind: Unknown, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}

func classifyBeta(res betaChargeResponse) Outcome {
	switch res.State {
	case "success":
		return Outcome{Kind: Approved, ProviderPaymentID: res.PaymentID}
	case "declined":
		return Outcome{Kind: Declined, ProviderPaymentID: res.PaymentID, Reason: res.Message}
	default:
		return Outcome{Kind: Unknown, ProviderPaymentID: res.PaymentID, Reason: res.State}
	}
}

func (c *BetaClient) LookupPayment(ctx context.Context, externalRef string) (Outcome, bool, error) {
	u := fmt.Sprintf("%s/api/charges?reference=%s", c.baseURL, url.QueryEscape(externalRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var res betaChargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Outcome{}, false, fmt.Errorf("decode response: %w", err)
		}
		return classifyBeta(res), true, nil
	case http.StatusNotFound:
		return Outcome{}, false, nil
	default:
		return Outcome{}, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
