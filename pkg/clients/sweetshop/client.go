package sweetshop

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

// APIClient is a resty-backed client for the Sweet Shop REST API.
type APIClient struct {
	httpClient *resty.Client
}

// NewClient builds a client for the API served at baseURL.
func NewClient(baseURL string) *APIClient {
	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	return &APIClient{httpClient: restyClient}
}

// APIError mirrors the error payload returned by the API.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"error"`
	Code      string `json:"code"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sweetshop api error: status=%d, code=%s, message=%s", e.Status, e.Code, e.Message)
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type PurchaseResponse struct {
	Message   string           `json:"message"`
	Sweet     domain.StockItem `json:"sweet"`
	Purchased int              `json:"purchased"`
}

// Login authenticates and uses the returned token for later calls.
func (c *APIClient) Login(ctx context.Context, username, password string) (*domain.User, error) {
	result, err := c.login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	c.httpClient.SetAuthToken(result.Token)
	return &result.User, nil
}

// Token authenticates and returns the bearer token without storing it.
func (c *APIClient) Token(ctx context.Context, username, password string) (string, error) {
	result, err := c.login(ctx, username, password)
	if err != nil {
		return "", err
	}
	return result.Token, nil
}

func (c *APIClient) login(ctx context.Context, username, password string) (*authResponse, error) {
	result := new(authResponse)
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Purchase buys quantity units of a sweet. A quantity of zero or less omits
// the body so the server applies its default.
func (c *APIClient) Purchase(ctx context.Context, id int64, quantity int) (*PurchaseResponse, error) {
	var body any
	if quantity > 0 {
		body = map[string]int{"quantity": quantity}
	}

	result := new(PurchaseResponse)
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sweets/%d/purchase", id), body, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *APIClient) GetSweet(ctx context.Context, id int64) (*domain.StockItem, error) {
	result := new(domain.StockItem)
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sweets/%d", id), nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := new(APIError)

	req := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}
