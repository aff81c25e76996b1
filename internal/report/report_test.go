package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bizbook/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateProfitLossScenario(t *testing.T) {
	txs := []domain.Transaction{
		{Type: domain.TxTypeSales, Amount: dec("100"), Quantity: 2, CostPrice: dec("30")},
		{Type: domain.TxTypeExpense, Amount: dec("20")},
	}

	pl := CalculateProfitLoss(txs)

	for _, check := range []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"revenue", pl.Revenue, "100"},
		{"cogs", pl.COGS, "60"},
		{"gross_profit", pl.GrossProfit, "40"},
		{"expenses", pl.Expenses, "20"},
		{"net_profit", pl.NetProfit, "20"},
	} {
		if !check.got.Equal(dec(check.want)) {
			t.Errorf("%s: got %s, want %s", check.name, check.got, check.want)
		}
	}
}

func TestCalculateProfitLossIdentitiesHoldAtTwoDecimals(t *testing.T) {
	txs := []domain.Transaction{
		{Type: domain.TxTypeSales, Amount: dec("33.333"), Quantity: 3, CostPrice: dec("7.777")},
		{Type: domain.TxTypePurchase, Amount: dec("12.005")},
		{Type: domain.TxTypeExpense, Amount: dec("0.015")},
		{Type: domain.TxTypeSales, Amount: dec("0.01"), Quantity: 1, CostPrice: dec("0.001")},
	}

	pl := CalculateProfitLoss(txs)

	if !pl.GrossProfit.Equal(pl.Revenue.Sub(pl.COGS)) {
		t.Fatalf("gross profit %s != revenue %s - cogs %s", pl.GrossProfit, pl.Revenue, pl.COGS)
	}
	if !pl.NetProfit.Equal(pl.GrossProfit.Sub(pl.Expenses)) {
		t.Fatalf("net profit %s != gross %s - expenses %s", pl.NetProfit, pl.GrossProfit, pl.Expenses)
	}
	if pl.Revenue.Exponent() < -2 || pl.NetProfit.Exponent() < -2 {
		t.Fatalf("totals not rounded to 2dp: revenue=%s net=%s", pl.Revenue, pl.NetProfit)
	}
}

func TestCalculateProfitLossIgnoresSalesReturns(t *testing.T) {
	base := []domain.Transaction{
		{Type: domain.TxTypeSales, Amount: dec("250"), Quantity: 5, CostPrice: dec("20")},
	}
	withReturn := append([]domain.Transaction{
		{Type: domain.TxTypeSalesReturn, Amount: dec("500"), Quantity: 2},
		{Type: "adjustment", Amount: dec("999")},
	}, base...)

	got := CalculateProfitLoss(withReturn)
	want := CalculateProfitLoss(base)

	if !got.Revenue.Equal(want.Revenue) || !got.COGS.Equal(want.COGS) ||
		!got.Expenses.Equal(want.Expenses) || !got.NetProfit.Equal(want.NetProfit) {
		t.Fatalf("non-P&L types changed totals: got %+v, want %+v", got, want)
	}
}

func TestCalculateProfitLossIsOrderIndependent(t *testing.T) {
	txs := []domain.Transaction{
		{Type: domain.TxTypeSales, Amount: dec("10.10"), Quantity: 1, CostPrice: dec("4.04")},
		{Type: domain.TxTypePurchase, Amount: dec("3.33")},
		{Type: domain.TxTypeExpense, Amount: dec("1.25")},
		{Type: domain.TxTypeSales, Amount: dec("99.99"), Quantity: 7, CostPrice: dec("5.55")},
	}
	reversed := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		reversed[len(txs)-1-i] = tx
	}

	forward := CalculateProfitLoss(txs)
	backward := CalculateProfitLoss(reversed)

	if !forward.NetProfit.Equal(backward.NetProfit) || !forward.COGS.Equal(backward.COGS) {
		t.Fatalf("order changed result: %+v vs %+v", forward, backward)
	}
}

func TestFilterByDateIsInclusiveOnBothEnds(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	from, to := TrailingWindow(7, now)

	txs := []domain.Transaction{
		{ID: "at-start", Date: from},
		{ID: "at-end", Date: to},
		{ID: "inside", Date: now.Add(-24 * time.Hour)},
		{ID: "before", Date: from.Add(-time.Second)},
		{ID: "after", Date: to.Add(time.Second)},
	}

	kept := FilterByDate(txs, from, to)
	if len(kept) != 3 {
		t.Fatalf("expected 3 transactions kept, got %d", len(kept))
	}
	for _, tx := range kept {
		if tx.ID == "before" || tx.ID == "after" {
			t.Fatalf("transaction %s outside the window was kept", tx.ID)
		}
	}
}

func TestSalesSeriesAlwaysYieldsSevenPoints(t *testing.T) {
	now := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)

	for name, txs := range map[string][]domain.Transaction{
		"no data":        nil,
		"outside window": {{Type: domain.TxTypeSales, Amount: dec("50"), Date: now.AddDate(0, 0, -30)}},
	} {
		points := SalesSeries(txs, 7, now)
		if len(points) != 7 {
			t.Fatalf("%s: expected 7 points, got %d", name, len(points))
		}
		for _, p := range points {
			if !p.Sales.IsZero() || !p.Purchases.IsZero() {
				t.Fatalf("%s: expected zero-filled buckets, got %+v", name, p)
			}
		}
		if points[0].Date != "2026-03-09" || points[6].Date != "2026-03-15" {
			t.Fatalf("%s: wrong bucket range %s..%s", name, points[0].Date, points[6].Date)
		}
	}
}

func TestSalesSeriesBucketsByTypeAndDay(t *testing.T) {
	now := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	txs := []domain.Transaction{
		{Type: domain.TxTypeSales, Amount: dec("40"), Date: now},
		{Type: domain.TxTypeSales, Amount: dec("10"), Date: now},
		{Type: domain.TxTypePurchase, Amount: dec("25"), Date: yesterday},
		{Type: domain.TxTypeExpense, Amount: dec("99"), Date: now}, // not tracked by this chart
	}

	points := SalesSeries(txs, 7, now)
	last := points[6]
	if !last.Sales.Equal(dec("50")) {
		t.Fatalf("expected today's sales 50, got %s", last.Sales)
	}
	if !points[5].Purchases.Equal(dec("25")) {
		t.Fatalf("expected yesterday's purchases 25, got %s", points[5].Purchases)
	}
	if !last.Purchases.IsZero() {
		t.Fatalf("expense leaked into purchases bucket: %s", last.Purchases)
	}
}

func TestRevenueExpenseSeriesTracksExpenses(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		{Type: domain.TxTypeSales, Amount: dec("120"), Date: now},
		{Type: domain.TxTypeExpense, Amount: dec("45"), Date: now},
		{Type: domain.TxTypePurchase, Amount: dec("60"), Date: now}, // not tracked by this chart
	}

	points := RevenueExpenseSeries(txs, 7, now)
	if len(points) != 7 {
		t.Fatalf("expected 7 points, got %d", len(points))
	}
	last := points[6]
	if !last.Revenue.Equal(dec("120")) || !last.Expenses.Equal(dec("45")) {
		t.Fatalf("unexpected bucket: revenue=%s expenses=%s", last.Revenue, last.Expenses)
	}
}

func TestInventoryValueAndLowStock(t *testing.T) {
	products := []domain.Product{
		{ID: "p1", Name: "Notebook", Stock: 5, SellingPrice: dec("10")},
		{ID: "p2", Name: "Stapler", Stock: 10, SellingPrice: dec("3.50")},
		{ID: "p3", Name: "Pen Box", Stock: 42, SellingPrice: dec("1.25")},
	}

	value := InventoryValue(products)
	if !value.Equal(dec("137.50")) {
		t.Fatalf("expected inventory value 137.50, got %s", value)
	}

	low := LowStock(products, 10)
	if len(low) != 1 || low[0].ID != "p1" {
		t.Fatalf("expected only p1 (stock 5) below threshold, got %+v", low)
	}
}

func TestTopSellersRankingAndUnknownFallback(t *testing.T) {
	products := []domain.Product{
		{ID: "p1", Name: "Alpha"},
		{ID: "p2", Name: "Beta"},
		{ID: "p3", Name: "Gamma"},
		{ID: "p4", Name: "Delta"},
		{ID: "p5", Name: "Epsilon"},
		{ID: "p6", Name: "Zeta"},
	}
	txs := []domain.Transaction{
		{Type: domain.TxTypeSales, ProductID: "p1", Quantity: 3},
		{Type: domain.TxTypeSales, ProductID: "p2", Quantity: 9},
		{Type: domain.TxTypeSales, ProductID: "p2", Quantity: 1},
		{Type: domain.TxTypeSales, ProductID: "p3", Quantity: 7},
		{Type: domain.TxTypeSales, ProductID: "p4", Quantity: 5},
		{Type: domain.TxTypeSales, ProductID: "p5", Quantity: 4},
		{Type: domain.TxTypeSales, ProductID: "p6", Quantity: 2},
		{Type: domain.TxTypeSales, ProductID: "deleted", Quantity: 6},
		{Type: domain.TxTypePurchase, ProductID: "p1", Quantity: 100},
	}

	sellers := TopSellers(txs, products)

	if len(sellers) != TopSellersLimit {
		t.Fatalf("expected %d sellers, got %d", TopSellersLimit, len(sellers))
	}
	for i := 1; i < len(sellers); i++ {
		if sellers[i].Quantity > sellers[i-1].Quantity {
			t.Fatalf("ranking not non-increasing: %+v", sellers)
		}
	}
	if sellers[0].Name != "Beta" || sellers[0].Quantity != 10 {
		t.Fatalf("expected Beta(10) first, got %+v", sellers[0])
	}

	foundUnknown := false
	for _, s := range sellers {
		if s.Name == domain.UnknownProductName && s.Quantity == 6 {
			foundUnknown = true
		}
	}
	if !foundUnknown {
		t.Fatalf("dangling product reference did not surface as Unknown: %+v", sellers)
	}
}

func TestCalculateExpenseBreakdown(t *testing.T) {
	txs := []domain.Transaction{
		{Type: domain.TxTypeExpense, Category: "Rent", Amount: dec("600")},
		{Type: domain.TxTypeExpense, Category: "Utilities", Amount: dec("150")},
		{Type: domain.TxTypeExpense, Amount: dec("250")},
		{Type: domain.TxTypeSales, Amount: dec("9999")},
	}

	breakdown := CalculateExpenseBreakdown(txs)

	if !breakdown.Total.Equal(dec("1000")) {
		t.Fatalf("expected total 1000, got %s", breakdown.Total)
	}
	if len(breakdown.Categories) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(breakdown.Categories))
	}
	if breakdown.Categories[0].Category != "Rent" || !breakdown.Categories[0].Percent.Equal(dec("60")) {
		t.Fatalf("expected Rent at 60%%, got %+v", breakdown.Categories[0])
	}

	var other *domain.ExpenseCategory
	for i := range breakdown.Categories {
		if breakdown.Categories[i].Category == "Other" {
			other = &breakdown.Categories[i]
		}
	}
	if other == nil || !other.Amount.Equal(dec("250")) || !other.Percent.Equal(dec("25")) {
		t.Fatalf("uncategorized expense not grouped under Other: %+v", breakdown.Categories)
	}

	sum := decimal.Zero
	for _, c := range breakdown.Categories {
		sum = sum.Add(c.Percent)
	}
	if !sum.Equal(dec("100")) {
		t.Fatalf("percentages should sum to 100, got %s", sum)
	}
}

func TestCalculateExpenseBreakdownEmpty(t *testing.T) {
	breakdown := CalculateExpenseBreakdown(nil)
	if !breakdown.Total.IsZero() || len(breakdown.Categories) != 0 {
		t.Fatalf("expected empty breakdown, got %+v", breakdown)
	}
}

func TestCalculateDashboardStats(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	products := []domain.Product{
		{ID: "p1", Name: "Notebook", Stock: 5, SellingPrice: dec("10")},
		{ID: "p2", Name: "Stapler", Stock: 30, SellingPrice: dec("3")},
	}
	txs := []domain.Transaction{
		{Type: domain.TxTypeSales, ProductID: "p1", Quantity: 2, Amount: dec("20"), Date: now},
		{Type: domain.TxTypeExpense, Amount: dec("7.50"), Date: now},
		{Type: domain.TxTypeSales, ProductID: "p2", Quantity: 1, Amount: dec("3"), Date: now.AddDate(0, 0, -1)},
	}

	stats := CalculateDashboardStats(products, txs, now, 10)

	if !stats.TotalInventoryValue.Equal(dec("140")) {
		t.Fatalf("expected inventory value 140, got %s", stats.TotalInventoryValue)
	}
	if !stats.DailySales.Equal(dec("20")) {
		t.Fatalf("yesterday's sale leaked into today: %s", stats.DailySales)
	}
	if !stats.DailyExpenses.Equal(dec("7.50")) {
		t.Fatalf("expected daily expenses 7.50, got %s", stats.DailyExpenses)
	}
	if stats.TotalProducts != 2 || stats.TotalStockUnits != 35 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if len(stats.LowStockItems) != 1 || stats.LowStockItems[0].ID != "p1" {
		t.Fatalf("expected p1 in low stock, got %+v", stats.LowStockItems)
	}
	if len(stats.TopSellingItems) == 0 || stats.TopSellingItems[0].Name != "Notebook" {
		t.Fatalf("expected Notebook as top seller, got %+v", stats.TopSellingItems)
	}
}
