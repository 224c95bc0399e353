package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/ledger"
	"loyalty-ledger/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCashbackRanking_DescendingStable(t *testing.T) {
	customers := []models.Customer{
		{Name: "Ana", AvailableCashback: d("10")},
		{Name: "Bia", AvailableCashback: d("30")},
		{Name: "Caio", AvailableCashback: d("10")},
	}

	got := CashbackRanking(customers)
	want := []string{"Bia", "Ana", "Caio"}
	for i, name := range want {
		if got[i].CustomerName != name || got[i].Rank != i+1 {
			t.Errorf("Position %d: expected %s rank %d, got %+v", i, name, i+1, got[i])
		}
	}
	if customers[0].Name != "Ana" {
		t.Error("Input slice must not be reordered")
	}
}

func TestPurchaseRanking_SumsSalesOnly(t *testing.T) {
	txns := []models.Transaction{
		{CustomerID: "a", CustomerName: "Ana", Kind: models.KindSale, Amount: d("100")},
		{CustomerID: "b", CustomerName: "Bia", Kind: models.KindSale, Amount: d("150")},
		{CustomerID: "a", CustomerName: "Ana", Kind: models.KindSale, Amount: d("80")},
		{CustomerID: "b", CustomerName: "Bia", Kind: models.KindRedemption, Amount: d("500"), CashbackDelta: d("-20")},
		{CustomerID: "c", CustomerName: "Caio", Kind: models.KindReferralBonus, Amount: d("900")},
	}

	got := PurchaseRanking(txns)
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].CustomerName != "Ana" || !got[0].Value.Equal(d("180")) {
		t.Errorf("Unexpected first entry: %+v", got[0])
	}
	if got[1].CustomerName != "Bia" || !got[1].Value.Equal(d("150")) {
		t.Errorf("Unexpected second entry: %+v", got[1])
	}
}

func TestHistory_Filters(t *testing.T) {
	day1 := models.NewDate(2025, time.October, 20)
	day2 := models.NewDate(2025, time.October, 21)
	txns := []models.Transaction{
		{ID: "1", Date: day1, CustomerName: "Ana", Kind: models.KindSale},
		{ID: "2", Date: day2, CustomerName: "Ana", Kind: models.KindRedemption},
		{ID: "3", Date: day2, CustomerName: "Bia", Kind: models.KindSale},
	}

	tests := []struct {
		name   string
		filter HistoryFilter
		want   []string
	}{
		{"no filter", HistoryFilter{}, []string{"1", "2", "3"}},
		{"by date", HistoryFilter{Date: day2}, []string{"2", "3"}},
		{"by kind", HistoryFilter{Kind: models.KindSale}, []string{"1", "3"}},
		{"by date and kind", HistoryFilter{Date: day2, Kind: models.KindSale}, []string{"3"}},
		{"by customer", HistoryFilter{CustomerName: "Ana"}, []string{"1", "2"}},
		{"no match", HistoryFilter{Date: models.NewDate(2024, time.January, 1)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := History(txns, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d transactions, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("Position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestSummary_CurrentMonthOnly(t *testing.T) {
	today := models.NewDate(2025, time.October, 21)

	state := ledger.NewState()
	state.Customers = []models.Customer{
		{ID: "a", Name: "Ana", AvailableCashback: d("12.50")},
		{ID: "b", Name: "Bia", AvailableCashback: d("7.50")},
	}
	state.Transactions = []models.Transaction{
		{Date: models.NewDate(2025, time.October, 1), Kind: models.KindSale, Amount: d("100")},
		{Date: models.NewDate(2025, time.October, 20), Kind: models.KindSale, Amount: d("50")},
		{Date: models.NewDate(2025, time.October, 20), Kind: models.KindRedemption, Amount: d("999")},
		{Date: models.NewDate(2024, time.October, 20), Kind: models.KindSale, Amount: d("1000")},
		{Date: models.NewDate(2025, time.September, 30), Kind: models.KindSale, Amount: d("1000")},
	}
	if _, err := state.AddPromotionalProduct("Perfume", models.NewDate(2025, time.October, 1), models.NewDate(2025, time.October, 31), today); err != nil {
		t.Fatalf("Failed to add promotion: %v", err)
	}

	s := Summary(state, today)
	if s.CustomerCount != 2 {
		t.Errorf("Expected 2 customers, got %d", s.CustomerCount)
	}
	if !s.TotalCashbackOwed.Equal(d("20")) {
		t.Errorf("Expected 20.00 owed, got %s", s.TotalCashbackOwed)
	}
	if !s.MonthSalesVolume.Equal(d("150")) {
		t.Errorf("Expected 150.00 month volume, got %s", s.MonthSalesVolume)
	}
	if s.ActivePromotions != 1 {
		t.Errorf("Expected 1 active promotion, got %d", s.ActivePromotions)
	}
}

func TestTierProgress(t *testing.T) {
	tests := []struct {
		spend    string
		wantTier models.Tier
		wantNext string
	}{
		{"0", models.TierSilver, "200.01"},
		{"150", models.TierSilver, "50.01"},
		{"200.01", models.TierGold, "800"},
		{"1000.01", models.TierDiamond, "0"},
	}

	for _, tt := range tests {
		p := TierProgress(models.Customer{LifetimeSpend: d(tt.spend)})
		if p.Tier != tt.wantTier {
			t.Errorf("spend %s: expected %s, got %s", tt.spend, tt.wantTier, p.Tier)
		}
		if !p.AmountToNext.Equal(d(tt.wantNext)) {
			t.Errorf("spend %s: expected %s to next, got %s", tt.spend, tt.wantNext, p.AmountToNext)
		}
	}
}
