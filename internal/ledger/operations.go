package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/tier"
)

var (
	// MinRedemption is the smallest cashback amount that can be redeemed.
	MinRedemption = decimal.RequireFromString("20.00")
	// MaxRedemptionShare caps a redemption relative to the sale it is used on.
	MaxRedemptionShare = decimal.RequireFromString("0.50")
)

// RegisterResult is the outcome of RegisterCustomer.
type RegisterResult struct {
	Customer models.Customer
	Warnings []string
}

// SaleResult is the outcome of RecordSale.
type SaleResult struct {
	Customer      models.Customer
	Sale          models.Transaction
	EffectiveRate decimal.Decimal
	PromoApplied  bool
	// Set only when a referral bonus was paid on this sale.
	Referrer      *models.Customer
	ReferralBonus *models.Transaction
	PurchaseCount int
}

// RedemptionResult is the outcome of RedeemCashback.
type RedemptionResult struct {
	Customer   models.Customer
	Redemption models.Transaction
}

// RegisterCustomer adds a new customer. An unknown referrer is dropped and
// reported as a warning rather than failing the registration.
func (s *State) RegisterCustomer(name, nickname, phone, referredBy string) (RegisterResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RegisterResult{}, ErrEmptyName
	}
	if s.indexOf(name) >= 0 {
		return RegisterResult{}, fmt.Errorf("%w: %s", ErrDuplicateCustomer, name)
	}

	var warnings []string
	referredBy = strings.TrimSpace(referredBy)
	if referredBy != "" && s.indexOf(referredBy) < 0 {
		warnings = append(warnings, fmt.Sprintf("referrer %q not found; customer registered without referral", referredBy))
		referredBy = ""
	}

	c := models.Customer{
		ID:                uuid.NewString(),
		Name:              name,
		Nickname:          strings.TrimSpace(nickname),
		Phone:             strings.TrimSpace(phone),
		AvailableCashback: decimal.Zero,
		LifetimeSpend:     decimal.Zero,
		CurrentTier:       models.TierSilver,
		ReferredBy:        referredBy,
		FirstPurchaseDone: false,
	}
	s.Customers = append(s.Customers, c)

	return RegisterResult{Customer: c, Warnings: warnings}, nil
}

// RecordSale credits cashback for a sale and, on a referred customer's first
// purchase, pays the referral bonus. Whether a promotional window is active is
// evaluated against today, not against saleDate.
func (s *State) RecordSale(name string, amount decimal.Decimal, saleDate models.Date, promoSelected bool, today models.Date) (SaleResult, error) {
	i := s.indexOf(name)
	if i < 0 {
		return SaleResult{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, name)
	}
	if !amount.IsPositive() {
		return SaleResult{}, ErrInvalidAmount
	}

	// the referral decision depends on the state before this sale
	wasFirstPurchase := !s.Customers[i].FirstPurchaseDone
	referredBy := s.Customers[i].ReferredBy
	referralFirstSale := wasFirstPurchase && referredBy != ""

	// rates come from the tier the cumulative spend lands in, this sale included
	current := tier.For(s.Customers[i].LifetimeSpend.Add(amount))
	rate := current.StandardRate
	promoApplied := false
	switch {
	case referralFirstSale:
		rate = tier.ReferralFirstPurchaseRate
	case promoSelected && current.PromoRate.IsPositive() && s.Promotions.AnyActive(today):
		rate = current.PromoRate
		promoApplied = true
	}

	earned := amount.Mul(rate).Round(2)

	c := &s.Customers[i]
	c.AvailableCashback = c.AvailableCashback.Add(earned)
	c.LifetimeSpend = c.LifetimeSpend.Add(amount)
	c.CurrentTier = tier.For(c.LifetimeSpend).Name
	c.FirstPurchaseDone = true

	result := SaleResult{EffectiveRate: rate, PromoApplied: promoApplied}

	if referralFirstSale {
		if r := s.indexOf(referredBy); r >= 0 {
			bonus := amount.Mul(tier.ReferralBonusRate).Round(2)
			ref := &s.Customers[r]
			ref.AvailableCashback = ref.AvailableCashback.Add(bonus)

			bonusTxn := models.Transaction{
				ID:            uuid.NewString(),
				Date:          saleDate,
				CustomerID:    ref.ID,
				CustomerName:  ref.Name,
				Kind:          models.KindReferralBonus,
				Amount:        amount,
				CashbackDelta: bonus,
			}
			s.Transactions = append(s.Transactions, bonusTxn)

			referrer := *ref
			result.Referrer = &referrer
			result.ReferralBonus = &bonusTxn
		}
	}

	sale := models.Transaction{
		ID:            uuid.NewString(),
		Date:          saleDate,
		CustomerID:    c.ID,
		CustomerName:  c.Name,
		Kind:          models.KindSale,
		Amount:        amount,
		CashbackDelta: earned,
		PromoFlag:     promoSelected,
	}
	s.Transactions = append(s.Transactions, sale)

	result.Customer = *c
	result.Sale = sale
	result.PurchaseCount = s.PurchaseCount(c.ID)
	return result, nil
}

// RedeemCashback debits cashback against a sale. Checks run in a fixed order
// and the first failure wins.
func (s *State) RedeemCashback(name string, amount, referenceSale decimal.Decimal, redeemDate models.Date, balanceBefore decimal.Decimal) (RedemptionResult, error) {
	i := s.indexOf(name)
	if i < 0 {
		return RedemptionResult{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, name)
	}

	if amount.LessThan(MinRedemption) {
		return RedemptionResult{}, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, MinRedemption.StringFixed(2))
	}
	maxAllowed := referenceSale.Mul(MaxRedemptionShare)
	if amount.GreaterThan(maxAllowed) {
		return RedemptionResult{}, fmt.Errorf("%w: at most %s", ErrExceedsMaxRedemption, maxAllowed.StringFixed(2))
	}
	if amount.GreaterThan(balanceBefore) || amount.GreaterThan(s.Customers[i].AvailableCashback) {
		return RedemptionResult{}, fmt.Errorf("%w: available %s", ErrInsufficientBalance, s.Customers[i].AvailableCashback.StringFixed(2))
	}

	c := &s.Customers[i]
	c.AvailableCashback = c.AvailableCashback.Sub(amount)

	txn := models.Transaction{
		ID:            uuid.NewString(),
		Date:          redeemDate,
		CustomerID:    c.ID,
		CustomerName:  c.Name,
		Kind:          models.KindRedemption,
		Amount:        referenceSale,
		CashbackDelta: amount.Neg(),
	}
	s.Transactions = append(s.Transactions, txn)

	return RedemptionResult{Customer: *c, Redemption: txn}, nil
}

// EditCustomer updates contact details and optionally renames the customer.
// A rename cascades to transaction history and to referrals naming them.
func (s *State) EditCustomer(originalName, newName, nickname, phone string) (models.Customer, error) {
	i := s.indexOf(originalName)
	if i < 0 {
		return models.Customer{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, originalName)
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return models.Customer{}, ErrEmptyName
	}
	if newName != originalName && s.indexOf(newName) >= 0 {
		return models.Customer{}, fmt.Errorf("%w: %s", ErrDuplicateCustomer, newName)
	}

	c := &s.Customers[i]
	c.Name = newName
	c.Nickname = strings.TrimSpace(nickname)
	c.Phone = strings.TrimSpace(phone)

	if newName != originalName {
		for t := range s.Transactions {
			if s.Transactions[t].CustomerID == c.ID {
				s.Transactions[t].CustomerName = newName
			}
		}
		for r := range s.Customers {
			if s.Customers[r].ReferredBy == originalName {
				s.Customers[r].ReferredBy = newName
			}
		}
	}

	return *c, nil
}

// DeleteCustomer removes a customer and all of their transactions. It returns
// the number of transactions removed.
func (s *State) DeleteCustomer(name string) (int, error) {
	i := s.indexOf(name)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrCustomerNotFound, name)
	}
	id := s.Customers[i].ID

	s.Customers = append(s.Customers[:i:i], s.Customers[i+1:]...)

	kept := s.Transactions[:0:0]
	removed := 0
	for _, txn := range s.Transactions {
		if txn.CustomerID == id {
			removed++
			continue
		}
		kept = append(kept, txn)
	}
	s.Transactions = kept

	return removed, nil
}

// AddPromotionalProduct registers a promotional window.
func (s *State) AddPromotionalProduct(productName string, start, end, today models.Date) (models.PromotionalWindow, error) {
	return s.Promotions.Add(productName, start, end, today)
}

// RemovePromotionalProduct removes a promotional window if present.
func (s *State) RemovePromotionalProduct(productName string) bool {
	return s.Promotions.Remove(productName)
}
