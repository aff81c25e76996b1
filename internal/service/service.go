package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bizbook/backend/internal/cache"
	"bizbook/backend/internal/domain"
	"bizbook/backend/internal/report"
	"bizbook/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const defaultReportDays = 30

// ErrUnauthenticated reports a call with no actor in ctx.
var ErrUnauthenticated = errors.New("authentication required")

// Service applies business rules on top of the repository. Every method
// resolves the owner from the actor in ctx; there is no cross-owner access.
type Service struct {
	repo              store.Repository
	dashCache         cache.DashboardCache
	dashCacheTTL      time.Duration
	defaultCurrency   string
	lowStockThreshold int
}

func New(repo store.Repository, dashCache cache.DashboardCache, dashCacheTTL time.Duration, defaultCurrency string, lowStockThreshold int) *Service {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	if dashCacheTTL <= 0 {
		dashCacheTTL = 15 * time.Second
	}
	if defaultCurrency == "" {
		defaultCurrency = "NPR"
	}
	if lowStockThreshold <= 0 {
		lowStockThreshold = report.DefaultLowStockThreshold
	}

	return &Service{
		repo:              repo,
		dashCache:         dashCache,
		dashCacheTTL:      dashCacheTTL,
		defaultCurrency:   defaultCurrency,
		lowStockThreshold: lowStockThreshold,
	}
}

func (s *Service) owner(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

// BootstrapOwner creates the initial settings document for a fresh account.
// Called right after signup, before any actor context exists for the owner.
func (s *Service) BootstrapOwner(ctx context.Context, account domain.Account, businessName string) error {
	_, err := s.repo.PutSettings(ctx, domain.UserSettings{
		OwnerID:      account.ID,
		Email:        account.Email,
		BusinessName: strings.TrimSpace(businessName),
		Currency:     s.defaultCurrency,
	})
	return err
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, actor.UserID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidRecord
	}
	if req.Stock < 0 || req.CostPrice.IsNegative() || req.SellingPrice.IsNegative() {
		return domain.Product{}, store.ErrInvalidRecord
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		OwnerID:      actor.UserID,
		Name:         req.Name,
		Category:     req.Category,
		Stock:        req.Stock,
		CostPrice:    req.CostPrice,
		SellingPrice: req.SellingPrice,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateDashboard(ctx, actor.UserID)
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.UserID, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, actor.UserID, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Stock != nil {
		updated.Stock = *req.Stock
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.SellingPrice != nil {
		if req.SellingPrice.IsNegative() {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.SellingPrice = *req.SellingPrice
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateDashboard(ctx, actor.UserID)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, actor.UserID, id); err != nil {
		return err
	}
	s.invalidateDashboard(ctx, actor.UserID)
	return nil
}

func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, actor.UserID)
}

// PostTransaction records a ledger entry and applies its inventory effect in
// one atomic store command. Sales and sales returns decrement stock by the
// quantity, purchases increment it, expenses leave it alone. Sales records
// also snapshot the product's current unit cost so later cost edits do not
// rewrite past profit.
func (s *Service) PostTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}

	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if !domain.IsKnownTransactionType(req.Type) {
		return domain.Transaction{}, store.ErrInvalidRecord
	}
	if req.Amount.IsNegative() {
		return domain.Transaction{}, store.ErrInvalidRecord
	}

	tx := domain.Transaction{
		OwnerID:   actor.UserID,
		Type:      req.Type,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
		Amount:    req.Amount,
		Category:  strings.TrimSpace(req.Category),
		CreatedAt: time.Now().UTC(),
	}

	if req.Type != domain.TxTypeExpense {
		if tx.ProductID == "" || tx.Quantity < 1 {
			return domain.Transaction{}, store.ErrInvalidRecord
		}
	}

	tx.Date, err = parseTransactionDate(req.Date, tx.CreatedAt)
	if err != nil {
		return domain.Transaction{}, store.ErrInvalidRecord
	}

	stockDelta := 0
	switch req.Type {
	case domain.TxTypeSales, domain.TxTypeSalesReturn:
		stockDelta = -tx.Quantity
	case domain.TxTypePurchase:
		stockDelta = tx.Quantity
	}

	if req.Type == domain.TxTypeSales {
		product, err := s.repo.GetProduct(ctx, actor.UserID, tx.ProductID)
		if err == nil {
			tx.CostPrice = product.CostPrice
		} else {
			tx.CostPrice = decimal.Zero
			slog.Warn("posting sale against unknown product", "product_id", tx.ProductID)
		}
	}

	posted, err := s.repo.PostTransaction(ctx, tx, stockDelta)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.invalidateDashboard(ctx, actor.UserID)
	return *posted, nil
}

// DeleteTransaction removes the ledger record only. Inventory keeps whatever
// adjustment the posting made.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	actor, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTransaction(ctx, actor.UserID, id); err != nil {
		return err
	}
	s.invalidateDashboard(ctx, actor.UserID)
	return nil
}

func (s *Service) GetSettings(ctx context.Context) (domain.UserSettings, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.UserSettings{}, err
	}

	settings, err := s.repo.GetSettings(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserSettings{
				OwnerID:  actor.UserID,
				Email:    actor.Email,
				Currency: s.defaultCurrency,
			}, nil
		}
		return domain.UserSettings{}, err
	}
	return *settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.UserSettings, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.UserSettings{}, err
	}

	current, err := s.GetSettings(ctx)
	if err != nil {
		return domain.UserSettings{}, err
	}
	if req.BusinessName != nil {
		current.BusinessName = strings.TrimSpace(*req.BusinessName)
	}
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if currency == "" {
			currency = s.defaultCurrency
		}
		current.Currency = currency
	}
	current.OwnerID = actor.UserID

	saved, err := s.repo.PutSettings(ctx, current)
	if err != nil {
		return domain.UserSettings{}, err
	}
	return *saved, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	key := dashboardCacheKey(actor.UserID)
	if cached, ok, err := s.dashCache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		slog.Warn("dashboard cache read failed", "error", err)
	}

	products, err := s.repo.ListProducts(ctx, actor.UserID)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, actor.UserID)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	stats := report.CalculateDashboardStats(products, txs, time.Now().UTC(), s.lowStockThreshold)
	if err := s.dashCache.Set(ctx, key, &stats, s.dashCacheTTL); err != nil {
		slog.Warn("dashboard cache write failed", "error", err)
	}
	return stats, nil
}

func (s *Service) ProfitLossReport(ctx context.Context, days int) (domain.ProfitLossReport, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.ProfitLossReport{}, err
	}
	if days < 1 {
		days = defaultReportDays
	}

	txs, err := s.repo.ListTransactions(ctx, actor.UserID)
	if err != nil {
		return domain.ProfitLossReport{}, err
	}

	from, to := report.TrailingWindow(days, time.Now().UTC())
	windowed := report.FilterByDate(txs, from, to)

	return domain.ProfitLossReport{
		From:       from.Format(time.RFC3339),
		To:         to.Format(time.RFC3339),
		Days:       days,
		ProfitLoss: report.CalculateProfitLoss(windowed),
	}, nil
}

func (s *Service) ExpenseBreakdown(ctx context.Context, days int) (domain.ExpenseBreakdown, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return domain.ExpenseBreakdown{}, err
	}
	if days < 1 {
		days = defaultReportDays
	}

	txs, err := s.repo.ListTransactions(ctx, actor.UserID)
	if err != nil {
		return domain.ExpenseBreakdown{}, err
	}

	from, to := report.TrailingWindow(days, time.Now().UTC())
	return report.CalculateExpenseBreakdown(report.FilterByDate(txs, from, to)), nil
}

func (s *Service) SalesSeries(ctx context.Context) ([]domain.SalesPoint, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return report.SalesSeries(txs, report.ChartDays, time.Now().UTC()), nil
}

func (s *Service) RevenueExpenseSeries(ctx context.Context) ([]domain.RevenueExpensePoint, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return report.RevenueExpenseSeries(txs, report.ChartDays, time.Now().UTC()), nil
}

// Watch opens a live snapshot stream for one of the actor's collections.
// The caller owns the subscription and must cancel it.
func (s *Service) Watch(ctx context.Context, collection string) (*store.Subscription, error) {
	actor, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	if collection != store.CollectionProducts && collection != store.CollectionTransactions {
		return nil, store.ErrInvalidRecord
	}
	return s.repo.Subscribe(actor.UserID, collection), nil
}

func (s *Service) invalidateDashboard(ctx context.Context, ownerID string) {
	if err := s.dashCache.Delete(ctx, dashboardCacheKey(ownerID)); err != nil {
		slog.Warn("dashboard cache invalidation failed", "error", err)
	}
}

func dashboardCacheKey(ownerID string) string {
	return "dashboard:" + ownerID
}

func parseTransactionDate(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
