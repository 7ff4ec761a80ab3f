package db

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *TestStore {
	t.Helper()
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	store.Cleanup(t)
	t.Cleanup(store.Close)
	return store
}

func createTestProduct(t *testing.T, store *TestStore, name string, price int64) *Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), CreateProductParams{
		Name:        name,
		Description: "test product",
		PriceRaw:    price,
		Active:      true,
	})
	require.NoError(t, err)
	return product
}

func TestProductCRUD(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	product := createTestProduct(t, store, "Sticker Pack", 1_000_000)
	assert.NotZero(t, product.ID)
	assert.Equal(t, "Sticker Pack", product.Name)
	assert.Equal(t, int64(1_000_000), product.PriceRaw)
	assert.True(t, product.Active)

	fetched, err := store.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.ID, fetched.ID)
	assert.Equal(t, product.Name, fetched.Name)

	updated, err := store.UpdateProduct(ctx, product.ID, CreateProductParams{
		Name:        "Sticker Pack v2",
		Description: "test product",
		PriceRaw:    2_000_000,
		Active:      false,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sticker Pack v2", updated.Name)
	assert.Equal(t, int64(2_000_000), updated.PriceRaw)
	assert.False(t, updated.Active)

	require.NoError(t, store.DeleteProduct(ctx, product.ID))

	_, err = store.GetProduct(ctx, product.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProducts_ActiveFilter(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	createTestProduct(t, store, "Active Item", 100)
	inactive, err := store.CreateProduct(ctx, CreateProductParams{
		Name:     "Retired Item",
		PriceRaw: 100,
		Active:   false,
	})
	require.NoError(t, err)

	active, err := store.ListProducts(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Active Item", active[0].Name)

	all, err := store.ListProducts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	names := []string{all[0].Name, all[1].Name}
	assert.Contains(t, names, inactive.Name)
}

func TestOrderLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	items, _ := json.Marshal([]map[string]int64{{"product_id": 1, "quantity": 2}})
	order, err := store.CreateOrder(ctx, CreateOrderParams{
		Signature:     "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7",
		WalletAddress: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		AmountRaw:     10_000_000,
		Status:        "paid",
		Items:         items,
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, "paid", order.Status)

	bySig, err := store.GetOrderBySignature(ctx, order.Signature)
	require.NoError(t, err)
	assert.Equal(t, order.ID, bySig.ID)

	shipped, err := store.UpdateOrderStatus(ctx, order.ID, "shipped")
	require.NoError(t, err)
	assert.Equal(t, "shipped", shipped.Status)

	listed, err := store.ListOrders(ctx, order.WalletAddress, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, order.ID, listed[0].ID)

	other, err := store.ListOrders(ctx, "somebody-else", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCreateOrder_DuplicateSignatureRejected(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	params := CreateOrderParams{
		Signature:     "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7",
		WalletAddress: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		AmountRaw:     100,
		Status:        "paid",
		Items:         json.RawMessage(`[]`),
	}

	_, err := store.CreateOrder(ctx, params)
	require.NoError(t, err)

	// The signature column is unique: one payment settles one order.
	_, err = store.CreateOrder(ctx, params)
	require.Error(t, err)
}

func TestGetOrderBySignature_NotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.GetOrderBySignature(context.Background(), "unknown-signature")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddresses(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	wallet := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	address, err := store.CreateAddress(ctx, CreateAddressParams{
		WalletAddress: wallet,
		Recipient:     "Ada Lovelace",
		Street:        "1 Analytical Way",
		City:          "London",
		PostalCode:    "EC1A 1BB",
		Country:       "GB",
	})
	require.NoError(t, err)
	assert.NotZero(t, address.ID)

	listed, err := store.ListAddressesByWallet(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Ada Lovelace", listed[0].Recipient)

	empty, err := store.ListAddressesByWallet(ctx, "somebody-else")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
