package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Product is a catalog product as served by the storefront API.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	PriceRaw    int64   `json:"price_raw"`
	ImageURL    *string `json:"image_url,omitempty"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// OrderItem is a single line in an order.
type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// Order is a settled purchase as served by the storefront API.
type Order struct {
	ID            int64           `json:"id"`
	Signature     string          `json:"signature"`
	WalletAddress string          `json:"wallet_address"`
	AmountRaw     int64           `json:"amount_raw"`
	Status        string          `json:"status"`
	Items         json.RawMessage `json:"items"`
	AddressID     *int64          `json:"address_id,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// Balance is a wallet's token balance.
type Balance struct {
	Address  string  `json:"address"`
	Raw      uint64  `json:"raw"`
	UI       float64 `json:"ui"`
	Decimals int     `json:"decimals"`
}

// Client is the HTTP client for the tokengate storefront service.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new storefront client. adminToken may be empty; it is
// only needed for catalog management and order status updates.
func NewClient(baseURL, adminToken string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Order creation blocks on chain confirmation server-side.
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		adminToken: adminToken,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListProducts retrieves the active catalog.
func (c *Client) ListProducts(ctx context.Context) ([]*Product, error) {
	var products []*Product
	if err := c.get(ctx, "/api/v1/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct retrieves a single product.
func (c *Client) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var product Product
	if err := c.get(ctx, fmt.Sprintf("/api/v1/products/%d", id), &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// CreateProduct adds a catalog product. Requires the admin token.
func (c *Client) CreateProduct(ctx context.Context, name, description string, priceRaw int64, imageURL *string) (*Product, error) {
	reqBody := map[string]interface{}{
		"name":        name,
		"description": description,
		"price_raw":   priceRaw,
	}
	if imageURL != nil {
		reqBody["image_url"] = *imageURL
	}

	var product Product
	if err := c.post(ctx, "/api/v1/products", reqBody, &product, true); err != nil {
		return nil, err
	}

	c.logger.Debug("product created", "id", product.ID, "name", product.Name)
	return &product, nil
}

// CreateOrder records a purchase paid for by the given transaction signature.
// The server re-verifies the signature on-chain before persisting.
func (c *Client) CreateOrder(ctx context.Context, signature, walletAddress string, items []OrderItem, addressID *int64) (*Order, error) {
	reqBody := map[string]interface{}{
		"signature":      signature,
		"wallet_address": walletAddress,
		"items":          items,
	}
	if addressID != nil {
		reqBody["address_id"] = *addressID
	}

	var order Order
	if err := c.post(ctx, "/api/v1/orders", reqBody, &order, false); err != nil {
		return nil, err
	}

	c.logger.Debug("order created", "order_id", order.ID, "signature", signature)
	return &order, nil
}

// ListOrders retrieves orders, optionally filtered by wallet address.
func (c *Client) ListOrders(ctx context.Context, walletAddress string) ([]*Order, error) {
	path := "/api/v1/orders"
	if walletAddress != "" {
		path += "?wallet=" + url.QueryEscape(walletAddress)
	}
	var orders []*Order
	if err := c.get(ctx, path, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetBalance retrieves a wallet's token balance.
func (c *Client) GetBalance(ctx context.Context, address string) (*Balance, error) {
	var balance Balance
	if err := c.get(ctx, "/api/v1/balance/"+url.PathEscape(address), &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetProgress retrieves the treasury's accumulated balance.
func (c *Client) GetProgress(ctx context.Context) (*Balance, error) {
	var balance Balance
	if err := c.get(ctx, "/api/v1/progress", &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, reqBody any, dst any, admin bool) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
