package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bizbook/backend/internal/domain"
	"bizbook/backend/internal/store"
)

func TestProductLifecycleIsOwnerScoped(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		OwnerID:      "owner-a",
		Name:         "Copy Paper",
		Category:     "stationery",
		Stock:        40,
		CostPrice:    decimal.NewFromInt(310),
		SellingPrice: decimal.NewFromInt(420),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", created)
	}

	if _, err := s.GetProduct(ctx, "owner-b", created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if err := s.DeleteProduct(ctx, "owner-b", created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected delete to fail for foreign owner, got %v", err)
	}

	listed, err := s.ListProducts(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected listing %+v", listed)
	}

	if err := s.DeleteProduct(ctx, "owner-a", created.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := s.GetProduct(ctx, "owner-a", created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateProductPreservesCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{OwnerID: "owner-a", Name: "Stapler"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	updated, err := s.UpdateProduct(ctx, domain.Product{
		ID:      created.ID,
		OwnerID: "owner-a",
		Name:    "Heavy Stapler",
		Stock:   12,
	})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Name != "Heavy Stapler" || updated.Stock != 12 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("CreatedAt changed on update: %v vs %v", updated.CreatedAt, created.CreatedAt)
	}
}

func TestPostTransactionAppliesStockDelta(t *testing.T) {
	s := New()
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{OwnerID: "owner-a", Name: "Pen", Stock: 10})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	posted, err := s.PostTransaction(ctx, domain.Transaction{
		OwnerID:   "owner-a",
		Type:      domain.TxTypeSales,
		ProductID: product.ID,
		Quantity:  4,
		Amount:    decimal.NewFromInt(100),
	}, -4)
	if err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}
	if posted.ID == "" || posted.Date.IsZero() {
		t.Fatalf("expected generated id and date, got %+v", posted)
	}

	after, err := s.GetProduct(ctx, "owner-a", product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if after.Stock != 6 {
		t.Fatalf("stock = %d, want 6", after.Stock)
	}

	// Oversell drives the count negative rather than failing.
	if _, err := s.PostTransaction(ctx, domain.Transaction{
		OwnerID:   "owner-a",
		Type:      domain.TxTypeSales,
		ProductID: product.ID,
		Quantity:  10,
		Amount:    decimal.NewFromInt(250),
	}, -10); err != nil {
		t.Fatalf("PostTransaction oversell: %v", err)
	}
	after, _ = s.GetProduct(ctx, "owner-a", product.ID)
	if after.Stock != -4 {
		t.Fatalf("stock = %d, want -4", after.Stock)
	}
}

func TestPostTransactionToleratesDanglingProduct(t *testing.T) {
	s := New()
	ctx := context.Background()

	posted, err := s.PostTransaction(ctx, domain.Transaction{
		OwnerID:   "owner-a",
		Type:      domain.TxTypeSales,
		ProductID: "prd-gone",
		Quantity:  2,
		Amount:    decimal.NewFromInt(50),
	}, -2)
	if err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}

	txs, err := s.ListTransactions(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != posted.ID {
		t.Fatalf("expected ledger record despite dangling product, got %+v", txs)
	}
}

func TestDeleteTransactionKeepsStockAdjustment(t *testing.T) {
	s := New()
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{OwnerID: "owner-a", Name: "Notebook", Stock: 20})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	posted, err := s.PostTransaction(ctx, domain.Transaction{
		OwnerID:   "owner-a",
		Type:      domain.TxTypeSales,
		ProductID: product.ID,
		Quantity:  5,
		Amount:    decimal.NewFromInt(800),
	}, -5)
	if err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}

	if err := s.DeleteTransaction(ctx, "owner-a", posted.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}

	after, err := s.GetProduct(ctx, "owner-a", product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if after.Stock != 15 {
		t.Fatalf("stock = %d after delete, want 15 (no reversal)", after.Stock)
	}
	txs, _ := s.ListTransactions(ctx, "owner-a")
	if len(txs) != 0 {
		t.Fatalf("expected empty ledger, got %+v", txs)
	}
}

func TestPostTransactionRejectsUnknownType(t *testing.T) {
	s := New()

	_, err := s.PostTransaction(context.Background(), domain.Transaction{
		OwnerID: "owner-a",
		Type:    "refund",
		Amount:  decimal.NewFromInt(10),
	}, 0)
	if !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestCreateAccountEnforcesUniqueEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateAccount(ctx, domain.Account{Email: "Shop@Example.COM", Password: "hash"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if created.Email != "shop@example.com" {
		t.Fatalf("email not normalised: %q", created.Email)
	}

	if _, err := s.CreateAccount(ctx, domain.Account{Email: "shop@example.com", Password: "hash2"}); !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	found, err := s.GetAccountByEmail(ctx, "  SHOP@example.com ")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("lookup returned wrong account: %+v", found)
	}
}

func TestWritesPublishFreshSnapshots(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub := s.Subscribe("owner-a", store.CollectionProducts)
	defer sub.Cancel()

	if _, err := s.CreateProduct(ctx, domain.Product{OwnerID: "owner-a", Name: "Ink"}); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	select {
	case event := <-sub.C:
		if len(event.Products) != 1 || event.Products[0].Name != "Ink" {
			t.Fatalf("unexpected snapshot %+v", event.Products)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestSeededStoreHasDemoData(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	account, err := s.GetAccountByEmail(ctx, "demo@bizbook.local")
	if err != nil {
		t.Fatalf("demo account missing: %v", err)
	}
	products, err := s.ListProducts(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(products) == 0 {
		t.Fatal("expected seeded inventory")
	}
	settings, err := s.GetSettings(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.Currency != "NPR" {
		t.Fatalf("currency = %q, want NPR", settings.Currency)
	}
}
