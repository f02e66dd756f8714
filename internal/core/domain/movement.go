package domain

import "time"

type MovementKind string

const (
	MovementPurchase MovementKind = "purchase"
	MovementRestock  MovementKind = "restock"
)

// StockMovement records one committed quantity change.
type StockMovement struct {
	ID            string       `json:"id" bson:"_id"`
	ItemID        int64        `json:"item_id" bson:"item_id"`
	Kind          MovementKind `json:"kind" bson:"kind"`
	Delta         int          `json:"delta" bson:"delta"`
	QuantityAfter int          `json:"quantity_after" bson:"quantity_after"`
	Actor         string       `json:"actor" bson:"actor"`
	OccurredAt    time.Time    `json:"occurred_at" bson:"occurred_at"`
}
