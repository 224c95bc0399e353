package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/service"
	"loyalty-ledger/internal/storage"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := service.NewService(db, service.Options{
		Clock: func() time.Time { return time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC) },
	})
	return NewHandler(svc)
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r, nil)
	r.Get("/health", h.Health)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := doJSON(t, r, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestRegisterCustomer_Success(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana", Phone: "555-0101"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var resp models.CustomerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Customer.Name != "Ana" || resp.Customer.CurrentTier != models.TierSilver {
		t.Errorf("Unexpected customer: %+v", resp.Customer)
	}
}

func TestRegisterCustomer_UnknownReferrerWarns(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Bruno", ReferredBy: "Ghost"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rr.Code)
	}

	var resp models.CustomerResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Customer.ReferredBy != "" {
		t.Errorf("Expected referral cleared, got %q", resp.Customer.ReferredBy)
	}
	if len(resp.Warnings) != 1 {
		t.Errorf("Expected one warning, got %v", resp.Warnings)
	}
}

func TestRegisterCustomer_Duplicate(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"})
	rr := doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rr.Code)
	}
}

func TestRegisterCustomer_InvalidJSON(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	req := httptest.NewRequest("POST", "/customers", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestRegisterCustomer_EmptyBody(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	req := httptest.NewRequest("POST", "/customers", strings.NewReader(""))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	var resp models.ErrorResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error != "request body is required" {
		t.Errorf("Unexpected error message %q", resp.Error)
	}
}

func TestRecordSale_AndCustomerDetail(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana Maria"})
	rr := doJSON(t, r, "POST", "/sales", models.RecordSaleRequest{
		CustomerName: "Ana Maria",
		Amount:       decimal.RequireFromString("250.00"),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var sale models.SaleResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &sale); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	// 250.00 cumulative is Gold: 7%
	if !sale.Transaction.CashbackDelta.Equal(decimal.RequireFromString("17.50")) {
		t.Errorf("Expected 17.50 cashback, got %s", sale.Transaction.CashbackDelta)
	}
	if sale.PurchaseCount != 1 {
		t.Errorf("Expected purchase count 1, got %d", sale.PurchaseCount)
	}

	rr = doJSON(t, r, "GET", "/customers/Ana%20Maria", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var detail models.CustomerDetailResponse
	json.Unmarshal(rr.Body.Bytes(), &detail)
	if detail.Progress.Tier != models.TierGold {
		t.Errorf("Expected Gold, got %s", detail.Progress.Tier)
	}
	if !detail.Progress.AmountToNext.Equal(decimal.RequireFromString("750.01")) {
		t.Errorf("Expected 750.01 to next tier, got %s", detail.Progress.AmountToNext)
	}
}

func TestRecordSale_UnknownCustomer(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := doJSON(t, r, "POST", "/sales", models.RecordSaleRequest{CustomerName: "Ghost", Amount: decimal.RequireFromString("10")})
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestRecordSale_InvalidAmount(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"})
	rr := doJSON(t, r, "POST", "/sales", models.RecordSaleRequest{CustomerName: "Ana", Amount: decimal.RequireFromString("-5")})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestRedeemCashback_RuleViolation(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"})
	doJSON(t, r, "POST", "/sales", models.RecordSaleRequest{CustomerName: "Ana", Amount: decimal.RequireFromString("1000")})

	rr := doJSON(t, r, "POST", "/redemptions", models.RedeemCashbackRequest{
		CustomerName:        "Ana",
		Amount:              decimal.RequireFromString("10"),
		ReferenceSaleAmount: decimal.RequireFromString("100"),
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", rr.Code)
	}

	rr = doJSON(t, r, "POST", "/redemptions", models.RedeemCashbackRequest{
		CustomerName:        "Ana",
		Amount:              decimal.RequireFromString("30"),
		ReferenceSaleAmount: decimal.RequireFromString("100"),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var resp models.RedemptionResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if !resp.Customer.AvailableCashback.Equal(decimal.RequireFromString("40")) {
		t.Errorf("Expected 40.00 left, got %s", resp.Customer.AvailableCashback)
	}
}

func TestEditAndDeleteCustomer(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"})
	doJSON(t, r, "POST", "/sales", models.RecordSaleRequest{CustomerName: "Ana", Amount: decimal.RequireFromString("10")})

	rr := doJSON(t, r, "PUT", "/customers/Ana", models.EditCustomerRequest{Name: "Ana Paula", Nickname: "Paulinha"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, r, "GET", "/reports/history?customer=Ana%20Paula", nil)
	var history []models.Transaction
	json.Unmarshal(rr.Body.Bytes(), &history)
	if len(history) != 1 {
		t.Errorf("Expected 1 transaction under new name, got %d", len(history))
	}

	rr = doJSON(t, r, "DELETE", "/customers/Ana%20Paula", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var del map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &del)
	if del["transactions_removed"] != float64(1) {
		t.Errorf("Expected 1 transaction removed, got %v", del["transactions_removed"])
	}

	rr = doJSON(t, r, "DELETE", "/customers/Ana%20Paula", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second delete, got %d", rr.Code)
	}
}

func TestPromotions(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	body := map[string]string{"product_name": "Perfume", "start_date": "2025-10-01", "end_date": "2025-10-31"}
	rr := doJSON(t, r, "POST", "/promotions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, r, "POST", "/promotions", body)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate, got %d", rr.Code)
	}

	rr = doJSON(t, r, "POST", "/promotions", map[string]string{"product_name": "Soap", "start_date": "2025-10-31", "end_date": "2025-10-01"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for inverted range, got %d", rr.Code)
	}

	rr = doJSON(t, r, "GET", "/promotions", nil)
	var windows []models.PromotionalWindow
	json.Unmarshal(rr.Body.Bytes(), &windows)
	if len(windows) != 1 || !windows[0].IsActive {
		t.Errorf("Expected one active window, got %+v", windows)
	}

	rr = doJSON(t, r, "DELETE", "/promotions/Perfume", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	rr = doJSON(t, r, "DELETE", "/promotions/Perfume", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected idempotent removal, got %d", rr.Code)
	}
}

func TestReports(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"})
	doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Bia"})
	doJSON(t, r, "POST", "/sales", models.RecordSaleRequest{CustomerName: "Ana", Amount: decimal.RequireFromString("100")})
	doJSON(t, r, "POST", "/sales", models.RecordSaleRequest{CustomerName: "Bia", Amount: decimal.RequireFromString("150")})

	rr := doJSON(t, r, "GET", "/reports/summary", nil)
	var summary models.Summary
	json.Unmarshal(rr.Body.Bytes(), &summary)
	if summary.CustomerCount != 2 || !summary.MonthSalesVolume.Equal(decimal.RequireFromString("250")) {
		t.Errorf("Unexpected summary %+v", summary)
	}

	rr = doJSON(t, r, "GET", "/reports/rankings/purchases", nil)
	var ranking []models.RankingEntry
	json.Unmarshal(rr.Body.Bytes(), &ranking)
	if len(ranking) != 2 || ranking[0].CustomerName != "Bia" {
		t.Errorf("Unexpected purchase ranking %+v", ranking)
	}

	rr = doJSON(t, r, "GET", "/reports/rankings/cashback", nil)
	ranking = nil
	json.Unmarshal(rr.Body.Bytes(), &ranking)
	if len(ranking) != 2 || ranking[0].CustomerName != "Bia" {
		t.Errorf("Unexpected cashback ranking %+v", ranking)
	}

	rr = doJSON(t, r, "GET", "/reports/history?kind=sale&date=2025-10-21", nil)
	var history []models.Transaction
	json.Unmarshal(rr.Body.Bytes(), &history)
	if len(history) != 2 {
		t.Errorf("Expected 2 sales today, got %d", len(history))
	}

	rr = doJSON(t, r, "GET", "/reports/history?date=yesterday", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad date, got %d", rr.Code)
	}
}

func TestProtectWrapsMutatingRoutesOnly(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	h.Routes(r, deny)

	if rr := doJSON(t, r, "GET", "/customers", nil); rr.Code != http.StatusOK {
		t.Errorf("Expected reads to pass, got %d", rr.Code)
	}
	if rr := doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected writes to be guarded, got %d", rr.Code)
	}
}

// staleStore rejects every save as if another writer got there first.
type staleStore struct {
	storage.Store
}

func (staleStore) SaveTables(ctx context.Context, message string, tables ...storage.Table) error {
	return fmt.Errorf("%w: customers.csv", storage.ErrConflict)
}

func TestStaleWrite_Returns409(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	r := setupRouter(NewHandler(service.NewService(staleStore{Store: db}, service.Options{})))

	rr := doJSON(t, r, "POST", "/customers", models.RegisterCustomerRequest{Name: "Ana"})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rr.Code)
	}
}
