package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types form a closed set. Anything outside it is preserved in
// the record but ignored by every derived report.
const (
	TxTypeSales       = "sales"
	TxTypePurchase    = "purchase"
	TxTypeSalesReturn = "sales_return"
	TxTypeExpense     = "expense"
)

const UnknownProductName = "Unknown"

type Product struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Stock        int             `json:"stock"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Stock        int             `json:"stock"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Category     *string          `json:"category,omitempty"`
	Stock        *int             `json:"stock,omitempty"`
	CostPrice    *decimal.Decimal `json:"cost_price,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
}

// Transaction is append-only: records are created and deleted, never edited.
// Date is the user-supplied business date, distinct from CreatedAt.
// CostPrice is the unit cost snapshotted at posting time for sales records;
// P&L reads it from here, never from the product's current cost.
type Transaction struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Type      string          `json:"type"`
	ProductID string          `json:"product_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Category  string          `json:"category,omitempty"`
	Date      time.Time       `json:"date"`
	CreatedAt time.Time       `json:"created_at"`
}

type TransactionCreateRequest struct {
	Type      string          `json:"type"`
	ProductID string          `json:"product_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Category  string          `json:"category,omitempty"`
	Date      string          `json:"date,omitempty"`
}

type UserSettings struct {
	OwnerID      string    `json:"owner_id"`
	Email        string    `json:"email"`
	BusinessName string    `json:"business_name"`
	Currency     string    `json:"currency"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SettingsUpdateRequest struct {
	BusinessName *string `json:"business_name,omitempty"`
	Currency     *string `json:"currency,omitempty"`
}

// Account is the internal persistence model for auth credentials.
// Password holds a bcrypt hash, never plain text.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	BusinessName string `json:"business_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   string  `json:"expires_at"`
	Account     Account `json:"account"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirm struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Actor is the authenticated session identity, passed explicitly through
// context rather than held in any global.
type Actor struct {
	UserID string
	Email  string
}

// Derived view models. Ephemeral: recomputed from the current record sets on
// every request, never persisted.

type ProfitLoss struct {
	Revenue     decimal.Decimal `json:"revenue"`
	COGS        decimal.Decimal `json:"cogs"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
	Expenses    decimal.Decimal `json:"expenses"`
	NetProfit   decimal.Decimal `json:"net_profit"`
}

type ProfitLossReport struct {
	From       string     `json:"from"`
	To         string     `json:"to"`
	Days       int        `json:"days"`
	ProfitLoss ProfitLoss `json:"profit_loss"`
}

type TopSeller struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type DashboardStats struct {
	TotalInventoryValue decimal.Decimal `json:"total_inventory_value"`
	DailySales          decimal.Decimal `json:"daily_sales"`
	DailyExpenses       decimal.Decimal `json:"daily_expenses"`
	TotalProducts       int             `json:"total_products"`
	TotalStockUnits     int             `json:"total_stock_units"`
	TopSellingItems     []TopSeller     `json:"top_selling_items"`
	LowStockItems       []Product       `json:"low_stock_items"`
}

// SalesPoint is one day of the sales-vs-purchases chart series.
type SalesPoint struct {
	Date      string          `json:"date"`
	Sales     decimal.Decimal `json:"sales"`
	Purchases decimal.Decimal `json:"purchases"`
}

// RevenueExpensePoint is one day of the revenue-vs-expenses chart series.
type RevenueExpensePoint struct {
	Date     string          `json:"date"`
	Revenue  decimal.Decimal `json:"revenue"`
	Expenses decimal.Decimal `json:"expenses"`
}

type ExpenseCategory struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Percent  decimal.Decimal `json:"percent"`
}

type ExpenseBreakdown struct {
	Total      decimal.Decimal   `json:"total"`
	Categories []ExpenseCategory `json:"categories"`
}

func IsKnownTransactionType(t string) bool {
	switch t {
	case TxTypeSales, TxTypePurchase, TxTypeSalesReturn, TxTypeExpense:
		return true
	}
	return false
}
