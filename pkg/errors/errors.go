package apperrors

import (
	"errors"
	"fmt"
)

// Standardized broker and policy errors
var (
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrAccountInactive         = errors.New("account inactive")
	ErrSubscriberNotFound      = errors.New("subscriber not found")
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrNetwork                 = errors.New("network error")
	ErrOrderNotFound           = errors.New("order not found")
	ErrQueueCleared            = errors.New("queue cleared")
	ErrQueueShuttingDown       = errors.New("queue shutting down")
	ErrStreamDropped           = errors.New("account stream dropped")
	ErrStatusExpired           = errors.New("trading status expired")
)

// Broker rejection discriminants surfaced verbatim from the broker.
const (
	CodeTIFDayInvalidIntersession = "tif_day_invalid_intersession"
)

// Category classifies an error for retry and surfacing decisions.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryTransient  Category = "transient"
	CategoryRejection  Category = "rejection"
	CategoryFatal      Category = "fatal"
)

// BrokerError carries the broker's HTTP status and rejection code so callers
// can discriminate on it (the TIF intersession retry depends on Code).
type BrokerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BrokerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker rejection %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker error %d: %s", e.StatusCode, e.Message)
}

// Categorize maps a broker error onto a category.
func (e *BrokerError) Categorize() Category {
	switch {
	case e.StatusCode == 401:
		return CategoryAuth
	case e.StatusCode == 422:
		return CategoryRejection
	case e.StatusCode >= 500:
		return CategoryTransient
	default:
		return CategoryFatal
	}
}

// IsTIFIntersession reports whether err is the day-order intersession
// rejection that warrants a single GTC resubmit.
func IsTIFIntersession(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Code == CodeTIFDayInvalidIntersession
	}
	return false
}

// IsTransient reports whether err should be retried with back-off.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimitExceeded) {
		return true
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Categorize() == CategoryTransient
	}
	return false
}

// ValidationError is a per-item dry-run or structural failure. It never
// affects other queued items.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "order validation failed"
	}
	return "order validation failed: " + e.Errors[0]
}

// SkipReason is a structured policy-block outcome, returned (not raised) on
// the order path.
type SkipReason string

const (
	SkipTierBlocked     SkipReason = "tier_blocked"
	SkipDailyLimit      SkipReason = "daily_limit"
	SkipLossLimit       SkipReason = "loss_limit"
	SkipInvalidQuantity SkipReason = "invalid_quantity"
	SkipFiltered        SkipReason = "filtered"
)
