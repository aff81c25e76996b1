package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bizbook/backend/internal/domain"
	"bizbook/backend/internal/store"
	"bizbook/backend/internal/xid"
)

// Store is the in-memory repository used for dev mode and tests. All writes
// publish fresh collection snapshots through the embedded hub.
type Store struct {
	mu           sync.RWMutex
	hub          *store.Hub
	products     map[string]domain.Product
	transactions map[string]domain.Transaction
	settings     map[string]domain.UserSettings
	accounts     map[string]domain.Account
	accountIDs   map[string]string // lowercased email -> account id
}

func New() *Store {
	return &Store{
		hub:          store.NewHub(),
		products:     make(map[string]domain.Product),
		transactions: make(map[string]domain.Transaction),
		settings:     make(map[string]domain.UserSettings),
		accounts:     make(map[string]domain.Account),
		accountIDs:   make(map[string]string),
	}
}

// NewSeeded builds a store with a demo account and a small stationery
// inventory so the dashboard renders something on first boot. The demo
// password comes from SEED_DEMO_PASSWORD; a hardcoded dev default is used
// (with a warning) when unset. Production deployments set DATABASE_URL and
// never touch this path.
func NewSeeded() *Store {
	s := New()

	password := os.Getenv("SEED_DEMO_PASSWORD")
	if password == "" {
		password = "demo12345"
		slog.Warn("memory store using default demo credentials; set SEED_DEMO_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash seed password", "error", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	owner := "acct-demo"
	s.accounts[owner] = domain.Account{
		ID:        owner,
		Email:     "demo@bizbook.local",
		Password:  string(hash),
		CreatedAt: now,
	}
	s.accountIDs["demo@bizbook.local"] = owner
	s.settings[owner] = domain.UserSettings{
		OwnerID:      owner,
		Email:        "demo@bizbook.local",
		BusinessName: "Demo Traders",
		Currency:     "NPR",
		UpdatedAt:    now,
	}

	seed := []struct {
		name     string
		category string
		stock    int
		cost     string
		selling  string
	}{
		{"Copy Paper A4", "stationery", 140, "310", "420"},
		{"Ballpoint Pen", "stationery", 260, "12", "25"},
		{"Notebook 200p", "stationery", 85, "95", "160"},
		{"Stapler", "office", 18, "240", "380"},
		{"Printer Ink Black", "office", 7, "1450", "1950"},
		{"Envelope Pack", "stationery", 9, "110", "180"},
	}
	for _, p := range seed {
		id := xid.New("prd")
		s.products[id] = domain.Product{
			ID:           id,
			OwnerID:      owner,
			Name:         p.name,
			Category:     p.category,
			Stock:        p.stock,
			CostPrice:    decimal.RequireFromString(p.cost),
			SellingPrice: decimal.RequireFromString(p.selling),
			CreatedAt:    now,
		}
	}

	return s
}

func (s *Store) Subscribe(ownerID string, collection string) *store.Subscription {
	return s.hub.Subscribe(ownerID, collection)
}

func (s *Store) ListProducts(_ context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productsLocked(ownerID), nil
}

func (s *Store) productsLocked(ownerID string) []domain.Product {
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.products[product.ID] = product
	snapshot := s.productsLocked(product.OwnerID)
	s.mu.Unlock()

	s.publishProducts(product.OwnerID, snapshot)
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, ownerID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.OwnerID == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	existing, ok := s.products[product.ID]
	if !ok || existing.OwnerID != product.OwnerID {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	snapshot := s.productsLocked(product.OwnerID)
	s.mu.Unlock()

	s.publishProducts(product.OwnerID, snapshot)
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	existing, ok := s.products[id]
	if !ok || existing.OwnerID != ownerID {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(s.products, id)
	snapshot := s.productsLocked(ownerID)
	s.mu.Unlock()

	s.publishProducts(ownerID, snapshot)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, ownerID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionsLocked(ownerID), nil
}

func (s *Store) transactionsLocked(ownerID string) []domain.Transaction {
	txs := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if tx.OwnerID != ownerID {
			continue
		}
		txs = append(txs, tx)
	}
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		if a.Date.Equal(b.Date) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return txs
}

func (s *Store) PostTransaction(_ context.Context, tx domain.Transaction, stockDelta int) (*domain.Transaction, error) {
	if tx.OwnerID == "" || !domain.IsKnownTransactionType(tx.Type) {
		return nil, store.ErrInvalidRecord
	}
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Date.IsZero() {
		tx.Date = tx.CreatedAt
	}

	s.mu.Lock()
	stockApplied := false
	if stockDelta != 0 && tx.ProductID != "" {
		// A dangling product reference posts the ledger record anyway;
		// derived views degrade it to "Unknown".
		if product, ok := s.products[tx.ProductID]; ok && product.OwnerID == tx.OwnerID {
			product.Stock += stockDelta
			s.products[tx.ProductID] = product
			stockApplied = true
		}
	}
	s.transactions[tx.ID] = tx
	txSnapshot := s.transactionsLocked(tx.OwnerID)
	var productSnapshot []domain.Product
	if stockApplied {
		productSnapshot = s.productsLocked(tx.OwnerID)
	}
	s.mu.Unlock()

	s.publishTransactions(tx.OwnerID, txSnapshot)
	if stockApplied {
		s.publishProducts(tx.OwnerID, productSnapshot)
	}
	posted := tx
	return &posted, nil
}

func (s *Store) DeleteTransaction(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	existing, ok := s.transactions[id]
	if !ok || existing.OwnerID != ownerID {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	// Ledger record only; the stock adjustment from posting stays in place.
	delete(s.transactions, id)
	snapshot := s.transactionsLocked(ownerID)
	s.mu.Unlock()

	s.publishTransactions(ownerID, snapshot)
	return nil
}

func (s *Store) GetSettings(_ context.Context, ownerID string) (*domain.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := settings
	return &found, nil
}

func (s *Store) PutSettings(_ context.Context, settings domain.UserSettings) (*domain.UserSettings, error) {
	if settings.OwnerID == "" {
		return nil, store.ErrInvalidRecord
	}
	settings.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.settings[settings.OwnerID] = settings
	s.mu.Unlock()

	saved := settings
	return &saved, nil
}

func (s *Store) CreateAccount(_ context.Context, account domain.Account) (*domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(account.Email))
	if email == "" || account.Password == "" {
		return nil, store.ErrInvalidRecord
	}
	if account.ID == "" {
		account.ID = xid.New("acct")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.Email = email

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountIDs[email]; exists {
		return nil, store.ErrEmailTaken
	}
	s.accounts[account.ID] = account
	s.accountIDs[email] = account.ID

	created := account
	return &created, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountIDs[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	account := s.accounts[id]
	return &account, nil
}

func (s *Store) UpdateAccountPassword(_ context.Context, accountID string, passwordHash string) error {
	if passwordHash == "" {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	account.Password = passwordHash
	s.accounts[accountID] = account
	return nil
}

func (s *Store) publishProducts(ownerID string, snapshot []domain.Product) {
	if !s.hub.HasSubscribers(ownerID, store.CollectionProducts) {
		return
	}
	s.hub.Publish(ownerID, store.Event{
		Collection: store.CollectionProducts,
		Products:   snapshot,
	})
}

func (s *Store) publishTransactions(ownerID string, snapshot []domain.Transaction) {
	if !s.hub.HasSubscribers(ownerID, store.CollectionTransactions) {
		return
	}
	s.hub.Publish(ownerID, store.Event{
		Collection:   store.CollectionTransactions,
		Transactions: snapshot,
	})
}
