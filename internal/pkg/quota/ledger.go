package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/entitlements"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
	"gorm.io/gorm"
)

const noQuotaRecordsMsg = "No quota records found"

// Status is the enforced view of one counter. Remaining is -1 when the
// dimension is uncapped. PercentageUsed is derived with integer arithmetic
// only; the counters themselves never pass through floating point.
type Status struct {
	Dimension      models.QuotaDimension `json:"dimension"`
	CurrentUsage   uint64                `json:"current_usage"`
	QuotaLimit     int64                 `json:"quota_limit"`
	Unlimited      bool                  `json:"unlimited"`
	Remaining      int64                 `json:"remaining"`
	PercentageUsed int                   `json:"percentage_used"`
}

// CheckResult is the read-only verdict for a prospective consumption.
type CheckResult struct {
	Allowed      bool   `json:"allowed"`
	CurrentUsage uint64 `json:"current_usage"`
	QuotaLimit   int64  `json:"quota_limit"`
}

// Ledger enforces per-organization usage counters against plan limits.
type Ledger struct {
	repo Repository
}

// NewLedger creates a quota ledger from an injected repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// NewLedgerFromDB creates a quota ledger from a GORM DB handle.
func NewLedgerFromDB(db *gorm.DB) *Ledger {
	return NewLedger(NewRepository(db))
}

// WithTx returns a ledger bound to an open transaction, so limit adjustments
// can commit atomically with subscription transitions.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return NewLedger(l.repo.WithTx(tx))
}

// CheckQuota is the read-only verdict; it never mutates the counter.
func (l *Ledger) CheckQuota(ctx context.Context, organizationID uint, dim models.QuotaDimension, amount uint64) (*CheckResult, error) {
	if !models.ValidDimension(dim) {
		return nil, errs.Validation(fmt.Sprintf("unknown quota dimension %q", dim))
	}
	q, err := l.repo.GetQuota(ctx, organizationID, dim)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound(noQuotaRecordsMsg)
		}
		return nil, errs.Persistence(err)
	}
	return &CheckResult{
		Allowed:      allowed(q.CurrentUsage, q.QuotaLimit, amount),
		CurrentUsage: q.CurrentUsage,
		QuotaLimit:   q.QuotaLimit,
	}, nil
}

// IncrementQuota atomically checks and increments the counter. Two concurrent
// callers against the same row can never both succeed past the limit.
func (l *Ledger) IncrementQuota(ctx context.Context, organizationID uint, dim models.QuotaDimension, amount uint64) (*Status, error) {
	if !models.ValidDimension(dim) {
		return nil, errs.Validation(fmt.Sprintf("unknown quota dimension %q", dim))
	}
	if amount == 0 {
		return nil, errs.Validation("increment amount must be greater than zero")
	}

	ok, err := l.repo.IncrementIfWithinLimit(ctx, organizationID, dim, amount)
	if err != nil {
		return nil, errs.Persistence(err)
	}

	q, err := l.repo.GetQuota(ctx, organizationID, dim)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound(noQuotaRecordsMsg)
		}
		return nil, errs.Persistence(err)
	}
	if !ok {
		return nil, errs.Conflict(fmt.Sprintf("Quota exceeded for %s", dim))
	}

	status := statusFor(q)
	return &status, nil
}

// DecrementQuota releases usage, clamping at zero. It serializes per row via a
// short pessimistic lock; correctness beats throughput off the hot path.
func (l *Ledger) DecrementQuota(ctx context.Context, organizationID uint, dim models.QuotaDimension, amount uint64) (*Status, error) {
	if !models.ValidDimension(dim) {
		return nil, errs.Validation(fmt.Sprintf("unknown quota dimension %q", dim))
	}

	q, err := l.repo.DecrementClamped(ctx, organizationID, dim, amount)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound(noQuotaRecordsMsg)
		}
		return nil, errs.Persistence(err)
	}
	status := statusFor(q)
	return &status, nil
}

// GetQuotaStatus returns the status of every dimension for an organization.
func (l *Ledger) GetQuotaStatus(ctx context.Context, organizationID uint) (map[models.QuotaDimension]Status, error) {
	quotas, err := l.repo.ListQuotas(ctx, organizationID)
	if err != nil {
		return nil, errs.Persistence(err)
	}
	if len(quotas) == 0 {
		return nil, errs.NotFound(noQuotaRecordsMsg)
	}
	out := make(map[models.QuotaDimension]Status, len(quotas))
	for i := range quotas {
		out[quotas[i].Dimension] = statusFor(&quotas[i])
	}
	return out, nil
}

// ApplyTierLimits rewrites every dimension's limit for a plan tier change.
// Current usage is left untouched; enforcement picks up the new limits on the
// next check.
func (l *Ledger) ApplyTierLimits(ctx context.Context, organizationID uint, tier entitlements.Tier) error {
	for dim, limit := range entitlements.LimitsFor(tier) {
		if err := l.repo.UpdateLimit(ctx, organizationID, dim, limit); err != nil {
			return errs.Persistence(err)
		}
	}
	return nil
}

// ProvisionDefaults creates one counter row per dimension for a newly
// provisioned organization. Existing rows are left as they are.
func (l *Ledger) ProvisionDefaults(ctx context.Context, organizationID uint, tier entitlements.Tier) error {
	for _, dim := range models.AllDimensions() {
		q := &models.UsageQuota{
			OrganizationID: organizationID,
			Dimension:      dim,
			CurrentUsage:   0,
			QuotaLimit:     entitlements.QuotaLimit(tier, dim),
		}
		if err := l.repo.CreateIfMissing(ctx, q); err != nil {
			return errs.Persistence(err)
		}
	}
	return nil
}

// ResetPeriod is the interface used by the periodic reset job: it zeroes the
// counter and rotates the period window.
func (l *Ledger) ResetPeriod(ctx context.Context, organizationID uint, dim models.QuotaDimension, periodStart, periodEnd *time.Time) error {
	if !models.ValidDimension(dim) {
		return errs.Validation(fmt.Sprintf("unknown quota dimension %q", dim))
	}
	if err := l.repo.ResetPeriod(ctx, organizationID, dim, periodStart, periodEnd); err != nil {
		return errs.Persistence(err)
	}
	return nil
}

func allowed(current uint64, limit int64, amount uint64) bool {
	if entitlements.IsUnlimited(limit) {
		return true
	}
	if amount > math.MaxUint64-current {
		return false
	}
	return current+amount <= uint64(limit)
}

func statusFor(q *models.UsageQuota) Status {
	s := Status{
		Dimension:    q.Dimension,
		CurrentUsage: q.CurrentUsage,
		QuotaLimit:   q.QuotaLimit,
		Unlimited:    entitlements.IsUnlimited(q.QuotaLimit),
	}
	if s.Unlimited {
		s.Remaining = -1
		return s
	}
	limit := uint64(q.QuotaLimit)
	if q.CurrentUsage >= limit {
		s.Remaining = 0
		s.PercentageUsed = 100
		return s
	}
	s.Remaining = int64(limit - q.CurrentUsage)
	if limit > 0 {
		s.PercentageUsed = int(q.CurrentUsage * 100 / limit)
	}
	return s
}
