package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bizbook/backend/internal/domain"
	"bizbook/backend/internal/store"
	"bizbook/backend/internal/xid"
)

type Store struct {
	db  *sql.DB
	hub *store.Hub
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, hub: store.NewHub()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			owner_id TEXT PRIMARY KEY REFERENCES accounts(id),
			email TEXT NOT NULL DEFAULT '',
			business_name TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'NPR',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			stock INTEGER NOT NULL DEFAULT 0,
			cost_price NUMERIC(14,2) NOT NULL DEFAULT 0,
			selling_price NUMERIC(14,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS products_owner_idx ON products (owner_id, category, name)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			type TEXT NOT NULL,
			product_id TEXT,
			quantity INTEGER NOT NULL DEFAULT 0,
			amount NUMERIC(14,2) NOT NULL DEFAULT 0,
			cost_price NUMERIC(14,2) NOT NULL DEFAULT 0,
			category TEXT NOT NULL DEFAULT '',
			date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_owner_date_idx ON transactions (owner_id, date DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Subscribe(ownerID string, collection string) *store.Subscription {
	return s.hub.Subscribe(ownerID, collection)
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, category, stock, cost_price, selling_price, created_at
		FROM products
		WHERE owner_id = $1
		ORDER BY category, name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.Stock, &p.CostPrice, &p.SellingPrice, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, owner_id, name, category, stock, cost_price, selling_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.OwnerID, product.Name, product.Category, product.Stock, product.CostPrice, product.SellingPrice, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	s.publishProducts(ctx, product.OwnerID)
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, category, stock, cost_price, selling_price, created_at
		FROM products
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&product.ID, &product.OwnerID, &product.Name, &product.Category, &product.Stock, &product.CostPrice, &product.SellingPrice, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.OwnerID == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, category = $4, stock = $5, cost_price = $6, selling_price = $7
		WHERE id = $1 AND owner_id = $2
		RETURNING created_at
	`, product.ID, product.OwnerID, product.Name, product.Category, product.Stock, product.CostPrice, product.SellingPrice).Scan(&product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()

	s.publishProducts(ctx, product.OwnerID)
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, ownerID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM products WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	s.publishProducts(ctx, ownerID)
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, type, COALESCE(product_id,''), quantity, amount, cost_price, category, date, created_at
		FROM transactions
		WHERE owner_id = $1
		ORDER BY date DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 128)
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &tx.Type, &tx.ProductID, &tx.Quantity, &tx.Amount, &tx.CostPrice, &tx.Category, &tx.Date, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Date = tx.Date.UTC()
		tx.CreatedAt = tx.CreatedAt.UTC()
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// PostTransaction inserts the ledger record and the stock adjustment in one
// serializable transaction; both land or neither does.
func (s *Store) PostTransaction(ctx context.Context, tx domain.Transaction, stockDelta int) (*domain.Transaction, error) {
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	stockApplied := false
	if stockDelta != 0 && tx.ProductID != "" {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $1
			WHERE id = $2 AND owner_id = $3
		`, stockDelta, tx.ProductID, tx.OwnerID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		stockApplied = affected > 0
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, type, product_id, quantity, amount, cost_price, category, date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, tx.ID, tx.OwnerID, tx.Type, nullIfEmpty(tx.ProductID), tx.Quantity, tx.Amount, tx.CostPrice, tx.Category, tx.Date, tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	s.publishTransactions(ctx, tx.OwnerID)
	if stockApplied {
		s.publishProducts(ctx, tx.OwnerID)
	}
	posted := tx
	return &posted, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, ownerID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transactions WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	s.publishTransactions(ctx, ownerID)
	return nil
}

func (s *Store) GetSettings(ctx context.Context, ownerID string) (*domain.UserSettings, error) {
	var settings domain.UserSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, email, business_name, currency, updated_at
		FROM user_settings
		WHERE owner_id = $1
	`, ownerID).Scan(&settings.OwnerID, &settings.Email, &settings.BusinessName, &settings.Currency, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) PutSettings(ctx context.Context, settings domain.UserSettings) (*domain.UserSettings, error) {
	if settings.OwnerID == "" {
		return nil, store.ErrInvalidRecord
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (owner_id, email, business_name, currency, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (owner_id)
		DO UPDATE SET email = EXCLUDED.email, business_name = EXCLUDED.business_name,
			currency = EXCLUDED.currency, updated_at = EXCLUDED.updated_at
	`, settings.OwnerID, settings.Email, settings.BusinessName, settings.Currency, settings.UpdatedAt)
	if err != nil {
		return nil, err
	}

	saved := settings
	return &saved, nil
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.Email == "" || account.Password == "" {
		return nil, store.ErrInvalidRecord
	}
	if account.ID == "" {
		account.ID = xid.New("acct")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password, created_at)
		VALUES ($1,$2,$3,$4)
	`, account.ID, account.Email, account.Password, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrEmailTaken
		}
		return nil, err
	}

	created := account
	return &created, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password, created_at
		FROM accounts
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&account.ID, &account.Email, &account.Password, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

func (s *Store) UpdateAccountPassword(ctx context.Context, accountID string, passwordHash string) error {
	if passwordHash == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET password = $2
		WHERE id = $1
	`, accountID, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// publishProducts re-reads the owner's product set and pushes it to watchers.
// Snapshot reads happen outside the write transaction, after commit, so a
// watcher never sees uncommitted state.
func (s *Store) publishProducts(ctx context.Context, ownerID string) {
	if !s.hub.HasSubscribers(ownerID, store.CollectionProducts) {
		return
	}
	products, err := s.ListProducts(ctx, ownerID)
	if err != nil {
		return
	}
	s.hub.Publish(ownerID, store.Event{
		Collection: store.CollectionProducts,
		Products:   products,
	})
}

func (s *Store) publishTransactions(ctx context.Context, ownerID string) {
	if !s.hub.HasSubscribers(ownerID, store.CollectionTransactions) {
		return
	}
	txs, err := s.ListTransactions(ctx, ownerID)
	if err != nil {
		return
	}
	s.hub.Publish(ownerID, store.Event{
		Collection:   store.CollectionTransactions,
		Transactions: txs,
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
