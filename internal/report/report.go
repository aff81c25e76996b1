// Package report computes derived financial views over product and
// transaction snapshots. Every function is pure: same inputs, same outputs,
// no store access and no clock access (callers pass "now" explicitly).
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"bizbook/backend/internal/domain"
)

const (
	// TopSellersLimit caps the top-selling-items widget.
	TopSellersLimit = 5

	// ChartDays is the span of the daily chart series.
	ChartDays = 7

	// DefaultLowStockThreshold marks products low when stock drops below it.
	DefaultLowStockThreshold = 10

	dayKeyFormat = "2006-01-02"
)

// CalculateProfitLoss applies the P&L rule set over an already-filtered
// transaction window:
//
//	sales:    amount -> revenue, cost_price*quantity -> COGS
//	purchase: amount -> COGS
//	expense:  amount -> expenses
//
// sales_return and unrecognized types contribute nothing. Gross and net
// profit are derived from the rounded totals so the identities
// gross = revenue - cogs and net = gross - expenses hold exactly at 2dp.
func CalculateProfitLoss(txs []domain.Transaction) domain.ProfitLoss {
	revenue := decimal.Zero
	cogs := decimal.Zero
	expenses := decimal.Zero

	for _, tx := range txs {
		switch tx.Type {
		case domain.TxTypeSales:
			revenue = revenue.Add(tx.Amount)
			cogs = cogs.Add(tx.CostPrice.Mul(decimal.NewFromInt(int64(tx.Quantity))))
		case domain.TxTypePurchase:
			cogs = cogs.Add(tx.Amount)
		case domain.TxTypeExpense:
			expenses = expenses.Add(tx.Amount)
		}
	}

	revenue = revenue.Round(2)
	cogs = cogs.Round(2)
	expenses = expenses.Round(2)
	gross := revenue.Sub(cogs)

	return domain.ProfitLoss{
		Revenue:     revenue,
		COGS:        cogs,
		GrossProfit: gross,
		Expenses:    expenses,
		NetProfit:   gross.Sub(expenses),
	}
}

// TrailingWindow returns the closed interval [now - days*24h, now].
func TrailingWindow(days int, now time.Time) (time.Time, time.Time) {
	return now.Add(-time.Duration(days) * 24 * time.Hour), now
}

// FilterByDate keeps transactions whose date falls inside [from, to],
// inclusive on both ends.
func FilterByDate(txs []domain.Transaction, from, to time.Time) []domain.Transaction {
	kept := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		kept = append(kept, tx)
	}
	return kept
}

// SalesSeries buckets sales and purchase amounts into one point per calendar
// day for the trailing window, oldest first. The result always has exactly
// `days` points; days without transactions stay at zero.
func SalesSeries(txs []domain.Transaction, days int, now time.Time) []domain.SalesPoint {
	points := make([]domain.SalesPoint, 0, days)
	index := make(map[string]int, days)
	for i := days - 1; i >= 0; i-- {
		key := now.AddDate(0, 0, -i).Format(dayKeyFormat)
		index[key] = len(points)
		points = append(points, domain.SalesPoint{Date: key, Sales: decimal.Zero, Purchases: decimal.Zero})
	}

	from, to := TrailingWindow(days, now)
	for _, tx := range FilterByDate(txs, from, to) {
		i, ok := index[tx.Date.In(now.Location()).Format(dayKeyFormat)]
		if !ok {
			continue
		}
		switch tx.Type {
		case domain.TxTypeSales:
			points[i].Sales = points[i].Sales.Add(tx.Amount)
		case domain.TxTypePurchase:
			points[i].Purchases = points[i].Purchases.Add(tx.Amount)
		}
	}

	for i := range points {
		points[i].Sales = points[i].Sales.Round(2)
		points[i].Purchases = points[i].Purchases.Round(2)
	}
	return points
}

// RevenueExpenseSeries is the companion chart series: revenue (sales) vs
// expenses per calendar day, same bucketing guarantees as SalesSeries.
func RevenueExpenseSeries(txs []domain.Transaction, days int, now time.Time) []domain.RevenueExpensePoint {
	points := make([]domain.RevenueExpensePoint, 0, days)
	index := make(map[string]int, days)
	for i := days - 1; i >= 0; i-- {
		key := now.AddDate(0, 0, -i).Format(dayKeyFormat)
		index[key] = len(points)
		points = append(points, domain.RevenueExpensePoint{Date: key, Revenue: decimal.Zero, Expenses: decimal.Zero})
	}

	from, to := TrailingWindow(days, now)
	for _, tx := range FilterByDate(txs, from, to) {
		i, ok := index[tx.Date.In(now.Location()).Format(dayKeyFormat)]
		if !ok {
			continue
		}
		switch tx.Type {
		case domain.TxTypeSales:
			points[i].Revenue = points[i].Revenue.Add(tx.Amount)
		case domain.TxTypeExpense:
			points[i].Expenses = points[i].Expenses.Add(tx.Amount)
		}
	}

	for i := range points {
		points[i].Revenue = points[i].Revenue.Round(2)
		points[i].Expenses = points[i].Expenses.Round(2)
	}
	return points
}

// InventoryValue is the sum of stock * selling price over all products.
func InventoryValue(products []domain.Product) decimal.Decimal {
	total := decimal.Zero
	for _, p := range products {
		total = total.Add(p.SellingPrice.Mul(decimal.NewFromInt(int64(p.Stock))))
	}
	return total.Round(2)
}

// LowStock returns the products with stock strictly below the threshold,
// preserving input order. A product sitting exactly at the threshold is
// not low stock.
func LowStock(products []domain.Product, threshold int) []domain.Product {
	low := make([]domain.Product, 0)
	for _, p := range products {
		if p.Stock < threshold {
			low = append(low, p)
		}
	}
	return low
}

// TopSellers groups sales transactions by resolved product name, sums
// quantities, and returns the top entries sorted by quantity descending.
// A transaction referencing a missing product counts under "Unknown".
// Ties keep first-seen order so the output is deterministic.
func TopSellers(txs []domain.Transaction, products []domain.Product) []domain.TopSeller {
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	totals := make(map[string]int)
	order := make([]string, 0)
	for _, tx := range txs {
		if tx.Type != domain.TxTypeSales {
			continue
		}
		name, ok := names[tx.ProductID]
		if !ok || name == "" {
			name = domain.UnknownProductName
		}
		if _, seen := totals[name]; !seen {
			order = append(order, name)
		}
		totals[name] += tx.Quantity
	}

	sellers := make([]domain.TopSeller, 0, len(order))
	for _, name := range order {
		sellers = append(sellers, domain.TopSeller{Name: name, Quantity: totals[name]})
	}
	sort.SliceStable(sellers, func(i, j int) bool {
		return sellers[i].Quantity > sellers[j].Quantity
	})
	if len(sellers) > TopSellersLimit {
		sellers = sellers[:TopSellersLimit]
	}
	return sellers
}

// CalculateExpenseBreakdown groups expense transactions by category
// ("Other" when the record carries none) and reports each category's share
// of the expense total.
func CalculateExpenseBreakdown(txs []domain.Transaction) domain.ExpenseBreakdown {
	totals := make(map[string]decimal.Decimal)
	order := make([]string, 0)
	for _, tx := range txs {
		if tx.Type != domain.TxTypeExpense {
			continue
		}
		category := tx.Category
		if category == "" {
			category = "Other"
		}
		if _, seen := totals[category]; !seen {
			order = append(order, category)
		}
		totals[category] = totals[category].Add(tx.Amount)
	}

	total := decimal.Zero
	for _, amount := range totals {
		total = total.Add(amount)
	}

	hundred := decimal.NewFromInt(100)
	categories := make([]domain.ExpenseCategory, 0, len(order))
	for _, name := range order {
		amount := totals[name]
		percent := decimal.Zero
		if !total.IsZero() {
			percent = amount.Mul(hundred).Div(total).Round(2)
		}
		categories = append(categories, domain.ExpenseCategory{
			Category: name,
			Amount:   amount.Round(2),
			Percent:  percent,
		})
	}
	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].Amount.GreaterThan(categories[j].Amount)
	})

	return domain.ExpenseBreakdown{Total: total.Round(2), Categories: categories}
}

// CalculateDashboardStats assembles the dashboard widgets: inventory value,
// today's sales and expense totals (calendar-day match against now), product
// and stock counts, top sellers and low-stock items.
func CalculateDashboardStats(products []domain.Product, txs []domain.Transaction, now time.Time, lowStockThreshold int) domain.DashboardStats {
	today := now.Format(dayKeyFormat)
	dailySales := decimal.Zero
	dailyExpenses := decimal.Zero
	for _, tx := range txs {
		if tx.Date.In(now.Location()).Format(dayKeyFormat) != today {
			continue
		}
		switch tx.Type {
		case domain.TxTypeSales:
			dailySales = dailySales.Add(tx.Amount)
		case domain.TxTypeExpense:
			dailyExpenses = dailyExpenses.Add(tx.Amount)
		}
	}

	stockUnits := 0
	for _, p := range products {
		stockUnits += p.Stock
	}

	return domain.DashboardStats{
		TotalInventoryValue: InventoryValue(products),
		DailySales:          dailySales.Round(2),
		DailyExpenses:       dailyExpenses.Round(2),
		TotalProducts:       len(products),
		TotalStockUnits:     stockUnits,
		TopSellingItems:     TopSellers(txs, products),
		LowStockItems:       LowStock(products, lowStockThreshold),
	}
}
