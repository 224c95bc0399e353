package models

import (
	"github.com/shopspring/decimal"
)

// Tier is a loyalty level derived from lifetime spend.
type Tier string

const (
	TierSilver  Tier = "Silver"
	TierGold    Tier = "Gold"
	TierDiamond Tier = "Diamond"
)

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	KindSale          TransactionKind = "Sale"
	KindRedemption    TransactionKind = "Redemption"
	KindReferralBonus TransactionKind = "ReferralBonus"
)

// Customer represents a loyalty program member.
type Customer struct {
	ID                string          `json:"id"`   // uuid
	Name              string          `json:"name"` // unique natural key
	Nickname          string          `json:"nickname"`
	Phone             string          `json:"phone"`
	AvailableCashback decimal.Decimal `json:"available_cashback"` // never negative
	LifetimeSpend     decimal.Decimal `json:"lifetime_spend"`     // only grows
	CurrentTier       Tier            `json:"current_tier"`
	ReferredBy        string          `json:"referred_by"` // customer name or ""
	FirstPurchaseDone bool            `json:"first_purchase_done"`
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID            string          `json:"id"` // uuid
	Date          Date            `json:"date"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	Kind          TransactionKind `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`         // gross sale amount
	CashbackDelta decimal.Decimal `json:"cashback_delta"` // signed
	PromoFlag     bool            `json:"promo_flag"`
}

// PromotionalWindow is a time-bounded promotional product campaign.
type PromotionalWindow struct {
	ProductName string `json:"product_name"`
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
	IsActive    bool   `json:"is_active"` // display cache, recomputed on read
}

// RegisterCustomerRequest is the request body for registering a customer.
type RegisterCustomerRequest struct {
	Name       string `json:"name"`
	Nickname   string `json:"nickname"`
	Phone      string `json:"phone"`
	ReferredBy string `json:"referred_by"`
}

// EditCustomerRequest is the request body for editing a customer.
type EditCustomerRequest struct {
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Phone    string `json:"phone"`
}

// RecordSaleRequest is the request body for recording a sale.
type RecordSaleRequest struct {
	CustomerName  string          `json:"customer_name"`
	Amount        decimal.Decimal `json:"amount"`
	Date          Date            `json:"date"`
	PromoSelected bool            `json:"promo_selected"`
}

// RedeemCashbackRequest is the request body for redeeming cashback.
type RedeemCashbackRequest struct {
	CustomerName        string          `json:"customer_name"`
	Amount              decimal.Decimal `json:"amount"`
	ReferenceSaleAmount decimal.Decimal `json:"reference_sale_amount"`
	Date                Date            `json:"date"`
}

// AddPromotionRequest is the request body for registering a promotional window.
type AddPromotionRequest struct {
	ProductName string `json:"product_name"`
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
}

// CustomerResponse wraps a customer with any non-fatal warnings.
type CustomerResponse struct {
	Customer Customer `json:"customer"`
	Warnings []string `json:"warnings,omitempty"`
}

// SaleResponse is returned after a sale is recorded.
type SaleResponse struct {
	Customer      Customer        `json:"customer"`
	Transaction   Transaction     `json:"transaction"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`
	ReferralBonus *Transaction    `json:"referral_bonus,omitempty"`
	PurchaseCount int             `json:"purchase_count"`
}

// RedemptionResponse is returned after cashback is redeemed.
type RedemptionResponse struct {
	Customer    Customer    `json:"customer"`
	Transaction Transaction `json:"transaction"`
}

// TierProgress describes where a customer sits in the tier table.
type TierProgress struct {
	Tier         Tier            `json:"tier"`
	StandardRate decimal.Decimal `json:"standard_rate"`
	PromoRate    decimal.Decimal `json:"promo_rate"`
	AmountToNext decimal.Decimal `json:"amount_to_next"`
}

// CustomerDetailResponse is the payload for a single customer lookup.
type CustomerDetailResponse struct {
	Customer Customer     `json:"customer"`
	Progress TierProgress `json:"progress"`
}

// RankingEntry is one row of a ranking report.
type RankingEntry struct {
	Rank         int             `json:"rank"` // 1-based
	CustomerName string          `json:"customer_name"`
	Value        decimal.Decimal `json:"value"`
}

// Summary is the dashboard overview.
type Summary struct {
	CustomerCount     int             `json:"customer_count"`
	TotalCashbackOwed decimal.Decimal `json:"total_cashback_owed"`
	MonthSalesVolume  decimal.Decimal `json:"month_sales_volume"`
	ActivePromotions  int             `json:"active_promotions"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
