package store

import (
	"context"
	"errors"

	"bizbook/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
	ErrEmailTaken    = errors.New("email already registered")
)

// Repository is the document-store contract. Every record set is scoped to
// the owning account; callers never see another user's documents.
//
// PostTransaction is deliberately a single command: it inserts the
// transaction and applies the stock adjustment to the referenced product in
// one store transaction, so a crash between the two writes cannot leave the
// ledger and the inventory out of step. A zero stockDelta or an empty
// ProductID skips the product write. Stock is allowed to go negative.
//
// DeleteTransaction removes only the ledger record. The stock effect of the
// deleted transaction is NOT reversed; inventory keeps the posted adjustment.
type Repository interface {
	ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, ownerID string, id string) error

	ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error)
	PostTransaction(ctx context.Context, tx domain.Transaction, stockDelta int) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, ownerID string, id string) error

	GetSettings(ctx context.Context, ownerID string) (*domain.UserSettings, error)
	PutSettings(ctx context.Context, settings domain.UserSettings) (*domain.UserSettings, error)

	CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdateAccountPassword(ctx context.Context, accountID string, passwordHash string) error

	Subscribe(ownerID string, collection string) *Subscription
}
