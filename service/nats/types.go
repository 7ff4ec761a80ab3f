package nats

import (
	"time"

	"github.com/kasuto/tokengate/service/db"
)

// OrderEvent represents a settled order published to NATS.
// This is published to the subject "orders.{wallet_address}" in JetStream
// after the payment has been verified on-chain and the order persisted.
type OrderEvent struct {
	// Order identifiers
	OrderID   int64  `json:"order_id"`
	Signature string `json:"signature"` // on-chain payment signature

	// Buyer information
	WalletAddress string `json:"wallet_address"`

	// Payment details
	AmountRaw int64  `json:"amount_raw"`
	Status    string `json:"status"`

	// Metadata
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromOrder converts a persisted order to an OrderEvent for publishing.
func FromOrder(order *db.Order) *OrderEvent {
	return &OrderEvent{
		OrderID:       order.ID,
		Signature:     order.Signature,
		WalletAddress: order.WalletAddress,
		AmountRaw:     order.AmountRaw,
		Status:        order.Status,
		CreatedAt:     order.CreatedAt,
		PublishedAt:   time.Now().UTC(),
	}
}
