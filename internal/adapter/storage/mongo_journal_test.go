package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

func getMongoJournal(t *testing.T) *MongoJournal {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	journal, err := NewMongoJournal(ctx, uri, "sweetshop_test")
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		_, _ = journal.collection.DeleteMany(context.Background(), map[string]any{})
		_ = journal.Close(context.Background())
	})
	return journal
}

func TestMongoJournal_AppendAndList(t *testing.T) {
	journal := getMongoJournal(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		err := journal.AppendMovement(ctx, domain.StockMovement{
			ID:            uuid.NewString(),
			ItemID:        42,
			Kind:          domain.MovementPurchase,
			Delta:         -1,
			QuantityAfter: 9 - i,
			Actor:         "alice",
			OccurredAt:    base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	movements, err := journal.ListMovements(ctx, 42, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(movements))
	}
	if movements[0].QuantityAfter != 7 {
		t.Errorf("expected newest movement first, got quantity_after %d", movements[0].QuantityAfter)
	}
}

func TestMongoJournal_ListUnknownItem(t *testing.T) {
	journal := getMongoJournal(t)

	movements, err := journal.ListMovements(context.Background(), 999999, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if movements == nil || len(movements) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", movements)
	}
}
