package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/kasuto/tokengate/service/config"
	"github.com/kasuto/tokengate/service/db"
	"github.com/kasuto/tokengate/service/nats"
	"github.com/kasuto/tokengate/service/solana"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for orders and addresses
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

// Valid Solana address characters: base58 (no 0, O, I, l)
var validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// Chain is the narrow view of the settlement client the server needs:
// payment verification before persisting orders, and balance reads.
type Chain interface {
	Verify(ctx context.Context, sig solanago.Signature, p solana.VerifyParams) solana.ConfirmationOutcome
	GetTokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (uint64, error)
}

type productRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	PriceRaw    int64   `json:"price_raw"`
	ImageURL    *string `json:"image_url,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type productResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	PriceRaw    int64   `json:"price_raw"`
	ImageURL    *string `json:"image_url,omitempty"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type orderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type createOrderRequest struct {
	Signature     string      `json:"signature"`
	WalletAddress string      `json:"wallet_address"`
	Items         []orderItem `json:"items"`
	AddressID     *int64      `json:"address_id,omitempty"`
}

type orderResponse struct {
	ID            int64           `json:"id"`
	Signature     string          `json:"signature"`
	WalletAddress string          `json:"wallet_address"`
	AmountRaw     int64           `json:"amount_raw"`
	Status        string          `json:"status"`
	Items         json.RawMessage `json:"items"`
	AddressID     *int64          `json:"address_id,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

type addressRequest struct {
	WalletAddress string `json:"wallet_address"`
	Recipient     string `json:"recipient"`
	Street        string `json:"street"`
	City          string `json:"city"`
	Region        string `json:"region"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
}

type balanceResponse struct {
	Address  string  `json:"address"`
	Raw      uint64  `json:"raw"`
	UI       float64 `json:"ui"`
	Decimals int     `json:"decimals"`
}

// handleListProducts returns the active catalog.
// GET /api/v1/products?all=true includes inactive products.
func handleListProducts(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		activeOnly := r.URL.Query().Get("all") != "true"
		products, err := store.ListProducts(r.Context(), activeOnly)
		if err != nil {
			logger.Error("failed to list products", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		out := make([]productResponse, 0, len(products))
		for _, p := range products {
			out = append(out, toProductResponse(p))
		}
		writeJSON(w, out, http.StatusOK)
	})
}

// handleGetProduct returns one product.
// GET /api/v1/products/{id}
func handleGetProduct(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid product id", http.StatusBadRequest)
			return
		}

		product, err := store.GetProduct(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "product not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get product", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, toProductResponse(product), http.StatusOK)
	})
}

// handleCreateProduct adds a catalog product. Admin only.
// POST /api/v1/products
func handleCreateProduct(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req productRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateProduct(&req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}
		product, err := store.CreateProduct(r.Context(), db.CreateProductParams{
			Name:        req.Name,
			Description: req.Description,
			PriceRaw:    req.PriceRaw,
			ImageURL:    req.ImageURL,
			Active:      active,
		})
		if err != nil {
			logger.Error("failed to create product", "name", req.Name, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("product created", "id", product.ID, "name", product.Name)
		writeJSON(w, toProductResponse(product), http.StatusCreated)
	})
}

// handleUpdateProduct updates a product. Admin only.
// PUT /api/v1/products/{id}
func handleUpdateProduct(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid product id", http.StatusBadRequest)
			return
		}

		var req productRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateProduct(&req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}
		product, err := store.UpdateProduct(r.Context(), id, db.CreateProductParams{
			Name:        req.Name,
			Description: req.Description,
			PriceRaw:    req.PriceRaw,
			ImageURL:    req.ImageURL,
			Active:      active,
		})
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "product not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to update product", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, toProductResponse(product), http.StatusOK)
	})
}

// handleDeleteProduct removes a product. Admin only.
// DELETE /api/v1/products/{id}
func handleDeleteProduct(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid product id", http.StatusBadRequest)
			return
		}

		if err := store.DeleteProduct(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "product not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to delete product", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("product deleted", "id", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleCreateOrder records a purchase after its payment has settled
// on-chain. The submitted signature is re-verified with the confirmation
// verifier before anything is persisted: the storefront only ever consumes
// the persistence API after a successful settlement.
// POST /api/v1/orders
func handleCreateOrder(store *db.Store, chain Chain, publisher nats.Publisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.WalletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sig, err := solanago.SignatureFromBase58(req.Signature)
		if err != nil {
			writeError(w, "invalid payment signature", http.StatusBadRequest)
			return
		}
		if len(req.Items) == 0 {
			writeError(w, "order must contain at least one item", http.StatusBadRequest)
			return
		}

		// Reject replays before touching the chain.
		if existing, err := store.GetOrderBySignature(r.Context(), req.Signature); err == nil && existing != nil {
			writeError(w, "payment signature already used", http.StatusConflict)
			return
		} else if err != nil && !errors.Is(err, db.ErrNotFound) {
			logger.Error("failed to check signature reuse", "signature", req.Signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Price the order from the catalog, never from the client.
		var total int64
		for _, item := range req.Items {
			if item.Quantity <= 0 {
				writeError(w, "item quantity must be positive", http.StatusBadRequest)
				return
			}
			product, err := store.GetProduct(r.Context(), item.ProductID)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					writeError(w, fmt.Sprintf("unknown product %d", item.ProductID), http.StatusBadRequest)
					return
				}
				logger.Error("failed to price order item", "product_id", item.ProductID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if product.PriceRaw > 0 && item.Quantity > math.MaxInt64/product.PriceRaw {
				writeError(w, "order total overflows", http.StatusBadRequest)
				return
			}
			total += product.PriceRaw * item.Quantity
		}

		// The server has no pre-transfer balance snapshot, so verification
		// relies on the status and history strategies.
		outcome := chain.Verify(r.Context(), sig, solana.VerifyParams{})
		if outcome != solana.OutcomeConfirmed {
			logger.Warn("order payment not confirmed",
				"signature", req.Signature,
				"wallet", req.WalletAddress,
				"outcome", outcome.String(),
			)
			writeError(w, "payment not confirmed on-chain; check your wallet before retrying", http.StatusPaymentRequired)
			return
		}

		items, err := json.Marshal(req.Items)
		if err != nil {
			writeError(w, "invalid items", http.StatusBadRequest)
			return
		}

		order, err := store.CreateOrder(r.Context(), db.CreateOrderParams{
			Signature:     req.Signature,
			WalletAddress: req.WalletAddress,
			AmountRaw:     total,
			Status:        "paid",
			Items:         items,
			AddressID:     req.AddressID,
		})
		if err != nil {
			logger.Error("failed to create order", "signature", req.Signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Event publishing is best-effort; the order is already durable.
		if publisher != nil {
			if err := publisher.PublishOrder(r.Context(), nats.FromOrder(order)); err != nil {
				logger.Error("failed to publish order event", "order_id", order.ID, "error", err)
			}
		}

		logger.Info("order created",
			"order_id", order.ID,
			"wallet", order.WalletAddress,
			"amount", order.AmountRaw,
			"signature", order.Signature,
		)
		writeJSON(w, toOrderResponse(order), http.StatusCreated)
	})
}

// handleListOrders lists orders, optionally filtered by wallet.
// GET /api/v1/orders?wallet={address}&limit=&offset=
func handleListOrders(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.URL.Query().Get("wallet")
		if wallet != "" {
			if err := validateAddress(wallet); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		limit := parseQueryInt(r, "limit", 50)
		offset := parseQueryInt(r, "offset", 0)

		orders, err := store.ListOrders(r.Context(), wallet, int32(limit), int32(offset))
		if err != nil {
			logger.Error("failed to list orders", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		out := make([]orderResponse, 0, len(orders))
		for _, o := range orders {
			out = append(out, toOrderResponse(o))
		}
		writeJSON(w, out, http.StatusOK)
	})
}

// handleGetOrder returns one order.
// GET /api/v1/orders/{id}
func handleGetOrder(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := store.GetOrder(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "order not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get order", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, toOrderResponse(order), http.StatusOK)
	})
}

// handleUpdateOrderStatus moves an order through fulfillment. Admin only.
// PUT /api/v1/orders/{id}/status
func handleUpdateOrderStatus(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid order id", http.StatusBadRequest)
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Status {
		case "paid", "shipped", "delivered", "refunded":
		default:
			writeError(w, "invalid status", http.StatusBadRequest)
			return
		}

		order, err := store.UpdateOrderStatus(r.Context(), id, req.Status)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "order not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to update order status", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("order status updated", "id", id, "status", req.Status)
		writeJSON(w, toOrderResponse(order), http.StatusOK)
	})
}

// handleCreateAddress stores a shipping address for a wallet.
// POST /api/v1/addresses
func handleCreateAddress(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req addressRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.WalletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Recipient == "" || req.Street == "" || req.City == "" || req.PostalCode == "" || req.Country == "" {
			writeError(w, "recipient, street, city, postal_code, and country are required", http.StatusBadRequest)
			return
		}

		address, err := store.CreateAddress(r.Context(), db.CreateAddressParams{
			WalletAddress: req.WalletAddress,
			Recipient:     req.Recipient,
			Street:        req.Street,
			City:          req.City,
			Region:        req.Region,
			PostalCode:    req.PostalCode,
			Country:       req.Country,
		})
		if err != nil {
			logger.Error("failed to create address", "wallet", req.WalletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, address, http.StatusCreated)
	})
}

// handleListAddresses lists a wallet's shipping addresses.
// GET /api/v1/addresses?wallet={address}
func handleListAddresses(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.URL.Query().Get("wallet")
		if err := validateAddress(wallet); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		addresses, err := store.ListAddressesByWallet(r.Context(), wallet)
		if err != nil {
			logger.Error("failed to list addresses", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, addresses, http.StatusOK)
	})
}

// handleGetBalance returns a wallet's token balance.
// GET /api/v1/balance/{address}
func handleGetBalance(chain Chain, cfg *config.Config, logger *slog.Logger) http.Handler {
	mint := solanago.MustPublicKeyFromBase58(cfg.TokenMintAddress)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		owner, err := solanago.PublicKeyFromBase58(address)
		if err != nil {
			writeError(w, "invalid address", http.StatusBadRequest)
			return
		}

		raw, err := chain.GetTokenBalance(r.Context(), owner, mint)
		if err != nil {
			logger.Error("failed to fetch balance", "address", address, "error", err)
			writeError(w, "failed to fetch balance", http.StatusBadGateway)
			return
		}

		writeJSON(w, balanceResponse{
			Address:  address,
			Raw:      raw,
			UI:       float64(raw) / math.Pow10(cfg.TokenDecimals),
			Decimals: cfg.TokenDecimals,
		}, http.StatusOK)
	})
}

// handleGetProgress returns the treasury's accumulated balance.
// GET /api/v1/progress
func handleGetProgress(chain Chain, cfg *config.Config, logger *slog.Logger) http.Handler {
	mint := solanago.MustPublicKeyFromBase58(cfg.TokenMintAddress)
	treasury := solanago.MustPublicKeyFromBase58(cfg.TreasuryAddress)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := chain.GetTokenBalance(r.Context(), treasury, mint)
		if err != nil {
			logger.Error("failed to fetch progress", "error", err)
			writeError(w, "failed to fetch progress", http.StatusBadGateway)
			return
		}

		writeJSON(w, balanceResponse{
			Address:  cfg.TreasuryAddress,
			Raw:      raw,
			UI:       float64(raw) / math.Pow10(cfg.TokenDecimals),
			Decimals: cfg.TokenDecimals,
		}, http.StatusOK)
	})
}

func toProductResponse(p *db.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		PriceRaw:    p.PriceRaw,
		ImageURL:    p.ImageURL,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:   p.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func toOrderResponse(o *db.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Signature:     o.Signature,
		WalletAddress: o.WalletAddress,
		AmountRaw:     o.AmountRaw,
		Status:        o.Status,
		Items:         o.Items,
		AddressID:     o.AddressID,
		CreatedAt:     o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func validateProduct(req *productRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.PriceRaw <= 0 {
		return fmt.Errorf("price_raw must be positive")
	}
	return nil
}

// validateAddress performs a basic shape check on a Solana address.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long")
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("address contains invalid characters")
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, map[string]string{"error": msg}, status)
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
