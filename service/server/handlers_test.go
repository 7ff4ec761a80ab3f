package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuto/tokengate/service/config"
	"github.com/kasuto/tokengate/service/db"
	"github.com/kasuto/tokengate/service/nats"
	"github.com/kasuto/tokengate/service/solana"
)

const (
	testWallet    = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSignature = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
)

// mockChain scripts the settlement answers so handler tests never touch RPC.
type mockChain struct {
	outcome    solana.ConfirmationOutcome
	balance    uint64
	balanceErr error

	verifyCalls int
}

func (m *mockChain) Verify(ctx context.Context, sig solanago.Signature, p solana.VerifyParams) solana.ConfirmationOutcome {
	m.verifyCalls++
	return m.outcome
}

func (m *mockChain) GetTokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (uint64, error) {
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.balance, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AdminToken:       "test-admin-token",
		TokenMintAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		TreasuryAddress:  testWallet,
		TokenDecimals:    6,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *db.Store {
	t.Helper()
	db.SkipIfNoTestDB(t)

	ts := db.NewTestStore(t)
	ts.Cleanup(t)
	t.Cleanup(ts.Close)
	return ts.Store
}

func seedProduct(t *testing.T, store *db.Store, name string, price int64) *db.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db.CreateProductParams{
		Name:     name,
		PriceRaw: price,
		Active:   true,
	})
	require.NoError(t, err)
	return product
}

func postJSON(t *testing.T, handler http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder_SettledPaymentIsPersistedAndPublished(t *testing.T) {
	store := setupTestStore(t)
	chain := &mockChain{outcome: solana.OutcomeConfirmed}
	publisher := nats.NewMockPublisher()
	handler := handleCreateOrder(store, chain, publisher, testLogger())

	product := seedProduct(t, store, "Sticker Pack", 5_000_000)

	body := fmt.Sprintf(`{"signature":%q,"wallet_address":%q,"items":[{"product_id":%d,"quantity":2}]}`,
		testSignature, testWallet, product.ID)
	rec := postJSON(t, handler, "/api/v1/orders", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testSignature, resp.Signature)
	assert.Equal(t, int64(10_000_000), resp.AmountRaw, "server prices the order from the catalog")
	assert.Equal(t, "paid", resp.Status)
	assert.Equal(t, 1, chain.verifyCalls, "payment is re-verified on-chain")

	events := publisher.PublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, resp.ID, events[0].OrderID)
	assert.Equal(t, testWallet, events[0].WalletAddress)
}

func TestCreateOrder_UnconfirmedPaymentIsRejected(t *testing.T) {
	store := setupTestStore(t)
	chain := &mockChain{outcome: solana.OutcomeExhausted}
	publisher := nats.NewMockPublisher()
	handler := handleCreateOrder(store, chain, publisher, testLogger())

	product := seedProduct(t, store, "Sticker Pack", 5_000_000)

	body := fmt.Sprintf(`{"signature":%q,"wallet_address":%q,"items":[{"product_id":%d,"quantity":1}]}`,
		testSignature, testWallet, product.ID)
	rec := postJSON(t, handler, "/api/v1/orders", body)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "check your wallet")

	// Nothing persisted, nothing published.
	_, err := store.GetOrderBySignature(context.Background(), testSignature)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Empty(t, publisher.PublishedEvents())
}

func TestCreateOrder_ReplayedSignatureIsRejected(t *testing.T) {
	store := setupTestStore(t)
	chain := &mockChain{outcome: solana.OutcomeConfirmed}
	handler := handleCreateOrder(store, chain, nats.NewMockPublisher(), testLogger())

	product := seedProduct(t, store, "Sticker Pack", 5_000_000)
	body := fmt.Sprintf(`{"signature":%q,"wallet_address":%q,"items":[{"product_id":%d,"quantity":1}]}`,
		testSignature, testWallet, product.ID)

	rec := postJSON(t, handler, "/api/v1/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, handler, "/api/v1/orders", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already used")
	assert.Equal(t, 1, chain.verifyCalls, "a replayed signature never reaches the chain")
}

func TestCreateOrder_PathologicalInput(t *testing.T) {
	store := setupTestStore(t)
	chain := &mockChain{outcome: solana.OutcomeConfirmed}
	handler := handleCreateOrder(store, chain, nats.NewMockPublisher(), testLogger())

	product := seedProduct(t, store, "Sticker Pack", 5_000_000)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		contains       string
	}{
		{
			name:           "malformed JSON",
			body:           `{"signature":`,
			expectedStatus: http.StatusBadRequest,
			contains:       "invalid request body",
		},
		{
			name:           "invalid wallet address",
			body:           fmt.Sprintf(`{"signature":%q,"wallet_address":"not base58 0OIl","items":[{"product_id":%d,"quantity":1}]}`, testSignature, product.ID),
			expectedStatus: http.StatusBadRequest,
			contains:       "invalid characters",
		},
		{
			name:           "invalid signature",
			body:           fmt.Sprintf(`{"signature":"garbage","wallet_address":%q,"items":[{"product_id":%d,"quantity":1}]}`, testWallet, product.ID),
			expectedStatus: http.StatusBadRequest,
			contains:       "invalid payment signature",
		},
		{
			name:           "empty items",
			body:           fmt.Sprintf(`{"signature":%q,"wallet_address":%q,"items":[]}`, testSignature, testWallet),
			expectedStatus: http.StatusBadRequest,
			contains:       "at least one item",
		},
		{
			name:           "zero quantity",
			body:           fmt.Sprintf(`{"signature":%q,"wallet_address":%q,"items":[{"product_id":%d,"quantity":0}]}`, testSignature, testWallet, product.ID),
			expectedStatus: http.StatusBadRequest,
			contains:       "must be positive",
		},
		{
			name:           "unknown product",
			body:           fmt.Sprintf(`{"signature":%q,"wallet_address":%q,"items":[{"product_id":999999,"quantity":1}]}`, testSignature, testWallet),
			expectedStatus: http.StatusBadRequest,
			contains:       "unknown product",
		},
		{
			name:           "oversized body",
			body:           `{"signature":"` + strings.Repeat("A", 2<<20) + `"}`,
			expectedStatus: http.StatusBadRequest,
			contains:       "invalid request body",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/api/v1/orders", tc.body)
			assert.Equal(t, tc.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.contains)
		})
	}

	assert.Equal(t, 0, chain.verifyCalls, "invalid requests never reach the chain")
}

func TestProductHandlers(t *testing.T) {
	store := setupTestStore(t)
	logger := testLogger()

	rec := postJSON(t, handleCreateProduct(store, logger), "/api/v1/products",
		`{"name":"Hoodie","description":"token-gated merch","price_raw":25000000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created productResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Hoodie", created.Name)
	assert.True(t, created.Active)

	req := httptest.NewRequest("GET", "/api/v1/products", nil)
	listRec := httptest.NewRecorder()
	handleListProducts(store, logger).ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)

	var listed []productResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	rec = postJSON(t, handleCreateProduct(store, logger), "/api/v1/products", `{"name":"","price_raw":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handleCreateProduct(store, logger), "/api/v1/products", `{"name":"Free","price_raw":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be positive")
}

func TestGetBalanceHandler(t *testing.T) {
	chain := &mockChain{balance: 12_500_000}
	handler := handleGetBalance(chain, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/balance/"+testWallet, nil)
	req.SetPathValue("address", testWallet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(12_500_000), resp.Raw)
	assert.InDelta(t, 12.5, resp.UI, 0.0001)
	assert.Equal(t, 6, resp.Decimals)
}

func TestGetBalanceHandler_InvalidAddress(t *testing.T) {
	handler := handleGetBalance(&mockChain{}, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/balance/bad0OIl", nil)
	req.SetPathValue("address", "bad0OIl")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProgressHandler(t *testing.T) {
	chain := &mockChain{balance: 99_000_000}
	handler := handleGetProgress(chain, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/progress", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testWallet, resp.Address)
	assert.Equal(t, uint64(99_000_000), resp.Raw)
}

func TestRequireAdmin(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := requireAdmin("secret", inner)

	req := httptest.NewRequest("POST", "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token is rejected")

	req = httptest.NewRequest("POST", "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong token is rejected")

	req = httptest.NewRequest("POST", "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, validateAddress(testWallet))
	assert.Error(t, validateAddress(""))
	assert.Error(t, validateAddress(strings.Repeat("A", maxAddressLength+1)))
	assert.Error(t, validateAddress("contains 0 and O and I and l"))
}
