// Package billing implements the per-user credit ledger: billing period
// rollover, per-message debits and attachment storage debits.
//
// The ledger only mutates an in-memory user record. Callers run its charge
// functions inside the store's row-locked transaction (see db.ChargeFunc),
// which is what makes a debit atomic with respect to concurrent sends.
package billing

import (
	"c4chat/internal/config"
	"c4chat/internal/repository/db"
	"fmt"
	"time"
)

const bytesPerMB = 1024 * 1024

// Period returns the billing period token for t, derived from its UTC year and month
func Period(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d-%d", t.Year(), int(t.Month()))
}

// Ledger applies the billing rules configured for a deployment
type Ledger struct {
	cfg config.BillingConfig
	now func() time.Time
}

// NewLedger creates a ledger using the wall clock
func NewLedger(cfg config.BillingConfig) *Ledger {
	return &Ledger{cfg: cfg, now: time.Now}
}

// WithClock returns a copy of the ledger that reads time from now
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	return &Ledger{cfg: l.cfg, now: now}
}

// CurrentPeriod returns the token of the period the ledger's clock is in
func (l *Ledger) CurrentPeriod() string {
	return Period(l.now())
}

// EnsureBillingPeriod resets the user's allowance when the stored period token
// is stale. It reports whether a rollover happened.
func (l *Ledger) EnsureBillingPeriod(user *db.User) bool {
	period := l.CurrentPeriod()
	if user.FreeRequestsBillingCycle == period {
		return false
	}
	user.FreeRequestsLeft = l.cfg.FreeRequestsPerPeriod
	user.AccountCredits = l.cfg.CreditsPerPeriod
	user.FreeRequestsBillingCycle = period
	return true
}

// InitialGrant stamps a freshly created user with the current period allowance
func (l *Ledger) InitialGrant(user *db.User) {
	user.FreeRequestsBillingCycle = ""
	l.EnsureBillingPeriod(user)
}

// Debit takes one free request and cost credits from the user. On failure no
// field is changed.
func (l *Ledger) Debit(user *db.User, cost int64, model string) error {
	if user.FreeRequestsLeft <= 0 || user.AccountCredits < cost {
		return db.ErrInsufficientCredit
	}
	user.FreeRequestsLeft--
	user.AccountCredits -= cost
	user.LastModelUsed = model
	return nil
}

// MessageCharge returns the charge run when a message is started
func (l *Ledger) MessageCharge(model string) db.ChargeFunc {
	return func(user *db.User) error {
		l.EnsureBillingPeriod(user)
		return l.Debit(user, l.cfg.CostPerMessage, model)
	}
}

// AttachmentCost prices an upload of size bytes, per started megabyte
func (l *Ledger) AttachmentCost(size int64) int64 {
	if size <= 0 {
		return 0
	}
	megabytes := (size + bytesPerMB - 1) / bytesPerMB
	return megabytes * l.cfg.CostPerAttachmentMB
}

// DebitAttachment takes the storage cost from credits only. Free-tier users
// are rejected regardless of balance.
func (l *Ledger) DebitAttachment(user *db.User, size int64) error {
	if !user.IsPremium() {
		return db.ErrPremiumRequired
	}
	cost := l.AttachmentCost(size)
	if user.AccountCredits < cost {
		return db.ErrInsufficientCredit
	}
	user.AccountCredits -= cost
	return nil
}

// AttachmentCharge returns the charge run when an attachment is uploaded
func (l *Ledger) AttachmentCharge(size int64) db.ChargeFunc {
	return func(user *db.User) error {
		l.EnsureBillingPeriod(user)
		return l.DebitAttachment(user, size)
	}
}
