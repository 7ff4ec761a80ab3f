package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListProducts_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/products", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": 1, "name": "Sticker Pack", "price_raw": 1000000, "active": true},
			{"id": 2, "name": "Hoodie", "price_raw": 25000000, "active": true},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	products, err := client.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Sticker Pack", products[0].Name)
	assert.Equal(t, int64(25000000), products[1].PriceRaw)
}

func TestCreateProduct_SendsAdminToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/products", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hoodie", body["name"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": 7, "name": "Hoodie", "price_raw": 25000000, "active": true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", nil, nil)
	product, err := client.CreateProduct(context.Background(), "Hoodie", "merch", 25000000, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), product.ID)
}

func TestCreateOrder_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/orders", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sig123", body["signature"])
		assert.Equal(t, "wallet123", body["wallet_address"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": 1, "signature": "sig123", "wallet_address": "wallet123",
			"amount_raw": 10000000, "status": "paid",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	order, err := client.CreateOrder(context.Background(), "sig123", "wallet123",
		[]OrderItem{{ProductID: 1, Quantity: 2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "paid", order.Status)
	assert.Equal(t, int64(10000000), order.AmountRaw)
}

func TestCreateOrder_PaymentRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "payment not confirmed on-chain; check your wallet before retrying",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	_, err := client.CreateOrder(context.Background(), "sig123", "wallet123",
		[]OrderItem{{ProductID: 1, Quantity: 1}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment not confirmed")
}

func TestGetBalance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/balance/wallet123", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address": "wallet123", "raw": 12500000, "ui": 12.5, "decimals": 6,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	balance, err := client.GetBalance(context.Background(), "wallet123")
	require.NoError(t, err)
	assert.Equal(t, uint64(12500000), balance.Raw)
	assert.InDelta(t, 12.5, balance.UI, 0.0001)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	assert.NoError(t, client.Health(context.Background()))
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	_, err := client.ListProducts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream exploded")
}
