package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AccountsClient calls the account-creation service.
type AccountsClient struct {
	baseURL string
	client  *http.Client
}

func NewAccountsClient(baseURL string) *AccountsClient {
	return &AccountsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type createAccountRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type createAccountResponse struct {
	ID string `json:"id"`
}

// CreateAccount provisions the product account. 409 means the account
// already exists for this email, which counts as success: the collaborator
// is idempotent on email and retries must not fail on work already done.
func (c *AccountsClient) CreateAccount(ctx context.Context, email, name, password string) (string, error) {
	body, err := json.Marshal(createAccountRequest{Email: email, Name: name, Password: password})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/accounts", bytes.NewReader(body))
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
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		var res createAccountResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return res.ID, nil
	default:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
