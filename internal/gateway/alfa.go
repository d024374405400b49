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

// AlfaClient talks to the alfa gateway's REST API.
type AlfaClient struct {
	baseURL string
	client  *http.Client
}

func NewAlfaClient(baseURL string, timeout time.Duration) *AlfaClient {
	return &AlfaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *AlfaClient) Name() string { return model.GatewayAlfa }

type alfaChargeRequest struct {
	ExternalReference string  `json:"external_reference"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	CardToken         string  `json:"card_token"`
	PayerEmail        string  `json:"payer_email"`
}

type alfaChargeResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // approved, rejected, in_process
	StatusDetail string `json:"status_detail"`
}

func (c *AlfaClient) Charge(ctx context.Context, req ChargeRequest) Outcome {
	body, err := json.Marshal(alfaChargeRequest{
		ExternalReference: req.ExternalRef,
		Amount:            req.Amount,
		Currency:          req.Currency,
		CardToken:         req.CardToken,
		PayerEmail:        req.Email,
	})
	if err != nil {
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Includes client timeouts: the charge may or may not have landed.
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("do request: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var res alfaChargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Outcome{Kind: Unknown, Reason: fmt.Sprintf("decode response: %v", err)}
		}
		return classifyAlfa(res)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		var res alfaChargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Outcome{Kind: Declined, Reason: "payment rejected"}
		}
		return Outcome{Kind: Declined, ProviderPaymentID: res.ID, Reason: res.StatusDetail}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("gateway status %d", resp.StatusCode)}
	default:
		return Outcome{Kind: Unknown, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}

func classifyAlfa(res alfaChargeResponse) Outcome {
	switch res.Status {
	case "approved":
		return Outcome{Kind: Approved, ProviderPaymentID: res.ID}
	case "rejected":
		return Outcome{Kind: Declined, ProviderPaymentID: res.ID, Reason: res.StatusDetail}
	default:
		return Outcome{Kind: Unknown, ProviderPaymentID: res.ID, Reason: res.Status}
	}
}

type alfaSearchResponse struct {
	Results []alfaChargeResponse `json:"results"`
}

func (c *AlfaClient) LookupPayment(ctx context.Context, externalRef string) (Outcome, bool, error) {
	u := fmt.Sprintf("%s/v1/payments/search?external_reference=%s", c.baseURL, url.QueryEscape(externalRef))
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
		var res alfaSearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Outcome{}, false, fmt.Errorf("decode response: %w", err)
		}
		if len(res.Results) == 0 {
			return Outcome{}, false, nil
		}
		return classifyAlfa(res.Results[0]), true, nil
	case http.StatusNotFound:
		return Outcome{}, false, nil
	default:
		return Outcome{}, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
