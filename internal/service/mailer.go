package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MailerClient calls the credential-delivery service.
type MailerClient struct {
	baseURL string
	client  *http.Client
}

func NewMailerClient(baseURL string) *MailerClient {
	return &MailerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type sendCredentialsRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	OrderRef string `json:"order_ref"`
}

type sendCredentialsResponse struct {
	DeliveryID string `json:"delivery_id"`
}

func (c *MailerClient) SendCredentials(ctx context.Context, email, name, password, orderRef string) (string, error) {
	body, err := json.Marshal(sendCredentialsRequest{Email: email, Name: name, Password: password, OrderRef: orderRef})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/credentials", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		var res sendCredentialsResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return res.DeliveryID, nil
	default:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
