package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the storefront: catalog products,
// settled orders, and shipping addresses.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Product is one catalog item. PriceRaw is the price in the token's smallest
// unit so no floating point ever touches money.
type Product struct {
	ID          int64
	Name        string
	Description string
	PriceRaw    int64
	ImageURL    *string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateProductParams contains the parameters for creating a product.
type CreateProductParams struct {
	Name        string
	Description string
	PriceRaw    int64
	ImageURL    *string
	Active      bool
}

// Order records a settled purchase. Signature is the on-chain transaction
// signature that paid for it; it is unique, which makes order creation
// idempotent per payment.
type Order struct {
	ID            int64
	Signature     string
	WalletAddress string
	AmountRaw     int64
	Status        string
	Items         json.RawMessage
	AddressID     *int64
	CreatedAt     time.Time
}

// CreateOrderParams contains the parameters for creating an order.
type CreateOrderParams struct {
	Signature     string
	WalletAddress string
	AmountRaw     int64
	Status        string
	Items         json.RawMessage
	AddressID     *int64
}

// Address is a shipping address attached to a wallet.
type Address struct {
	ID            int64
	WalletAddress string
	Recipient     string
	Street        string
	City          string
	Region        string
	PostalCode    string
	Country       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateAddressParams contains the parameters for creating an address.
type CreateAddressParams struct {
	WalletAddress string
	Recipient     string
	Street        string
	City          string
	Region        string
	PostalCode    string
	Country       string
}

// CreateProduct inserts a new catalog product.
func (s *Store) CreateProduct(ctx context.Context, params CreateProductParams) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO products (name, description, price_raw, image_url, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
RETURNING id, name, description, price_raw, image_url, active, created_at, updated_at
`, params.Name, params.Description, params.PriceRaw, params.ImageURL, params.Active)
	return scanProduct(row)
}

// GetProduct retrieves a product by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, description, price_raw, image_url, active, created_at, updated_at
FROM products
WHERE id = $1
`, id)
	return scanProduct(row)
}

// ListProducts returns catalog products, optionally only active ones,
// newest first.
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]*Product, error) {
	query := `
SELECT id, name, description, price_raw, image_url, active, created_at, updated_at
FROM products
`
	if activeOnly {
		query += "WHERE active\n"
	}
	query += "ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpdateProduct updates a product's fields.
func (s *Store) UpdateProduct(ctx context.Context, id int64, params CreateProductParams) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE products
SET name = $2, description = $3, price_raw = $4, image_url = $5, active = $6, updated_at = now()
WHERE id = $1
RETURNING id, name, description, price_raw, image_url, active, created_at, updated_at
`, id, params.Name, params.Description, params.PriceRaw, params.ImageURL, params.Active)
	return scanProduct(row)
}

// DeleteProduct removes a product from the catalog.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateOrder inserts a new order. The payment signature is unique; inserting
// the same signature twice returns an error from the database, which keeps a
// replayed checkout from producing duplicate orders.
func (s *Store) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO orders (signature, wallet_address, amount_raw, status, items, address_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
RETURNING id, signature, wallet_address, amount_raw, status, items, address_id, created_at
`, params.Signature, params.WalletAddress, params.AmountRaw, params.Status, params.Items, params.AddressID)
	return scanOrder(row)
}

// GetOrder retrieves an order by id.
func (s *Store) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, signature, wallet_address, amount_raw, status, items, address_id, created_at
FROM orders
WHERE id = $1
`, id)
	return scanOrder(row)
}

// GetOrderBySignature retrieves an order by its payment signature.
func (s *Store) GetOrderBySignature(ctx context.Context, signature string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, signature, wallet_address, amount_raw, status, items, address_id, created_at
FROM orders
WHERE signature = $1
`, signature)
	return scanOrder(row)
}

// ListOrders returns orders, optionally filtered by wallet, newest first.
func (s *Store) ListOrders(ctx context.Context, walletAddress string, limit, offset int32) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if walletAddress != "" {
		rows, err = s.pool.Query(ctx, `
SELECT id, signature, wallet_address, amount_raw, status, items, address_id, created_at
FROM orders
WHERE wallet_address = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, walletAddress, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `
SELECT id, signature, wallet_address, amount_raw, status, items, address_id, created_at
FROM orders
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus moves an order to a new fulfillment status.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE orders
SET status = $2
WHERE id = $1
RETURNING id, signature, wallet_address, amount_raw, status, items, address_id, created_at
`, id, status)
	return scanOrder(row)
}

// CreateAddress inserts a shipping address for a wallet.
func (s *Store) CreateAddress(ctx context.Context, params CreateAddressParams) (*Address, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO addresses (wallet_address, recipient, street, city, region, postal_code, country, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
RETURNING id, wallet_address, recipient, street, city, region, postal_code, country, created_at, updated_at
`, params.WalletAddress, params.Recipient, params.Street, params.City, params.Region, params.PostalCode, params.Country)
	return scanAddress(row)
}

// ListAddressesByWallet returns a wallet's shipping addresses, newest first.
func (s *Store) ListAddressesByWallet(ctx context.Context, walletAddress string) ([]*Address, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, wallet_address, recipient, street, city, region, postal_code, country, created_at, updated_at
FROM addresses
WHERE wallet_address = $1
ORDER BY created_at DESC
`, walletAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []*Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceRaw, &p.ImageURL, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	return &p, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Signature, &o.WalletAddress, &o.AmountRaw, &o.Status, &o.Items, &o.AddressID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}

func scanAddress(row pgx.Row) (*Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.WalletAddress, &a.Recipient, &a.Street, &a.City, &a.Region, &a.PostalCode, &a.Country, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan address: %w", err)
	}
	return &a, nil
}
