package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

const renewalDays = 365

// Subscription is the single premium plan record of a user.
type Subscription struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	UserID    uint       `gorm:"uniqueIndex;not null" json:"-"`
	Active    bool       `gorm:"index;not null" json:"active"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `gorm:"index" json:"date_to"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SubscriptionHistory records each paid renewal.
type SubscriptionHistory struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"index;not null" json:"-"`
	Amount         float64   `json:"amount"`
	TransactionID  string    `json:"transaction_id"`
	PaymentGateway string    `json:"payment_gateway"`
	CreatedAt      time.Time `json:"created_at"`
}

// CoversAt reports whether the plan is active and not yet past its end.
func (s *Subscription) CoversAt(now time.Time) bool {
	if !s.Active || s.DateTo == nil {
		return false
	}
	return !now.After(*s.DateTo)
}

// Premium is the price of the covered span at the yearly rate.
func (s *Subscription) Premium(yearlyPrice float64) float64 {
	if s.DateFrom == nil || s.DateTo == nil || !s.DateTo.After(*s.DateFrom) {
		return 0
	}
	days := decimal.NewFromFloat(s.DateTo.Sub(*s.DateFrom).Hours() / 24).Round(0)
	return decimal.NewFromFloat(yearlyPrice).
		Mul(days).
		Div(decimal.NewFromInt(renewalDays)).
		Round(2).
		InexactFloat64()
}

// Extend applies one paid renewal. An existing window is extended from its
// previous end, otherwise a new window starts today.
func (s *Subscription) Extend(now time.Time) {
	if s.DateFrom != nil && s.DateTo != nil {
		to := s.DateTo.AddDate(0, 0, renewalDays)
		s.DateTo = &to
	} else {
		from := startOfDay(now)
		to := from.AddDate(0, 0, renewalDays)
		s.DateFrom = &from
		s.DateTo = &to
	}
	s.Active = true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
