package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/models"
)

const (
	maxNameLength  = 120
	maxPhoneLength = 30
)

var (
	phoneRegex = regexp.MustCompile(`^[0-9+()\-. ]*$`)
	maxAmount  = decimal.RequireFromString("10000000")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateRegistration sanitises and checks a registration request in place.
func ValidateRegistration(req *models.RegisterCustomerRequest) error {
	req.Name = SanitizeString(req.Name)
	req.Nickname = SanitizeString(req.Nickname)
	req.Phone = SanitizeString(req.Phone)
	req.ReferredBy = SanitizeString(req.ReferredBy)

	if err := validateName(req.Name, "name"); err != nil {
		return err
	}
	if err := validateNickname(req.Nickname); err != nil {
		return err
	}
	return validatePhone(req.Phone)
}

// ValidateEdit sanitises and checks an edit request in place.
func ValidateEdit(req *models.EditCustomerRequest) error {
	req.Name = SanitizeString(req.Name)
	req.Nickname = SanitizeString(req.Nickname)
	req.Phone = SanitizeString(req.Phone)

	if err := validateName(req.Name, "name"); err != nil {
		return err
	}
	if err := validateNickname(req.Nickname); err != nil {
		return err
	}
	return validatePhone(req.Phone)
}

// ValidateSale checks a sale request. A zero date is allowed and means today.
func ValidateSale(req *models.RecordSaleRequest) error {
	req.CustomerName = SanitizeString(req.CustomerName)
	if err := validateName(req.CustomerName, "customer_name"); err != nil {
		return err
	}
	return validateAmount(req.Amount, "amount")
}

// ValidateRedemption checks a redemption request. Business limits (minimum,
// share of the sale, balance) are enforced by the ledger.
func ValidateRedemption(req *models.RedeemCashbackRequest) error {
	req.CustomerName = SanitizeString(req.CustomerName)
	if err := validateName(req.CustomerName, "customer_name"); err != nil {
		return err
	}
	if err := validateAmount(req.Amount, "amount"); err != nil {
		return err
	}
	return validateAmount(req.ReferenceSaleAmount, "reference_sale_amount")
}

// ValidatePromotion checks a promotional window request.
func ValidatePromotion(req *models.AddPromotionRequest) error {
	req.ProductName = SanitizeString(req.ProductName)
	if err := validateName(req.ProductName, "product_name"); err != nil {
		return err
	}
	if req.StartDate.IsZero() {
		return &ValidationError{Field: "start_date", Message: "is required"}
	}
	if req.EndDate.IsZero() {
		return &ValidationError{Field: "end_date", Message: "is required"}
	}
	if req.StartDate.After(req.EndDate) {
		return &ValidationError{Field: "start_date", Message: "must not be after end_date"}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func validateName(name, field string) error {
	if name == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	if len([]rune(name)) > maxNameLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("cannot exceed %d characters", maxNameLength)}
	}
	return nil
}

func validateNickname(nickname string) error {
	if len([]rune(nickname)) > maxNameLength {
		return &ValidationError{Field: "nickname", Message: fmt.Sprintf("cannot exceed %d characters", maxNameLength)}
	}
	return nil
}

func validatePhone(phone string) error {
	if len(phone) > maxPhoneLength {
		return &ValidationError{Field: "phone", Message: fmt.Sprintf("cannot exceed %d characters", maxPhoneLength)}
	}
	if !phoneRegex.MatchString(phone) {
		return &ValidationError{Field: "phone", Message: "may contain only digits, spaces and + ( ) - ."}
	}
	return nil
}

func validateAmount(amount decimal.Decimal, field string) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	if amount.GreaterThan(maxAmount) {
		return &ValidationError{Field: field, Message: "exceeds maximum allowed amount"}
	}
	if !amount.Equal(amount.Round(2)) {
		return &ValidationError{Field: field, Message: "cannot have more than 2 decimal places"}
	}
	return nil
}

// ValidateDateString parses an optional YYYY-MM-DD query value.
func ValidateDateString(s, field string) (models.Date, error) {
	s = SanitizeString(s)
	if s == "" {
		return models.Date{}, nil
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return models.Date{}, &ValidationError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return d, nil
}

// ValidateKind parses an optional transaction kind filter.
func ValidateKind(s string) (models.TransactionKind, error) {
	s = SanitizeString(s)
	if s == "" {
		return "", nil
	}
	for _, k := range []models.TransactionKind{models.KindSale, models.KindRedemption, models.KindReferralBonus} {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "kind", Message: "must be one of Sale, Redemption, ReferralBonus"}
}
