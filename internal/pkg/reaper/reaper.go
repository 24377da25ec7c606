package reaper

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/PageForgeHQ/PageForge/internal/pkg/billing"
	"github.com/PageForgeHQ/PageForge/internal/pkg/entitlements"
	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
	"github.com/PageForgeHQ/PageForge/internal/pkg/notify"
	"github.com/PageForgeHQ/PageForge/internal/pkg/quota"
	"gorm.io/gorm"
)

// DefaultGracePeriod is how long a subscription may sit in past_due before
// the reaper cancels it and drops the organization to the free tier.
const DefaultGracePeriod = 14 * 24 * time.Hour

// DefaultSweepInterval is how often the background reaper wakes up.
const DefaultSweepInterval = time.Hour

// Reaper periodically cancels subscriptions whose payment-failure grace
// period has run out. Each subscription is handled in its own transaction
// with a status guard, so a concurrent webhook recovery (invoice.paid moving
// the row back to active) wins and the row is skipped.
type Reaper struct {
	repo     billing.Repository
	quotas   billing.QuotaService
	notifier notify.Notifier
	flags    billing.ActiveFlags

	grace    time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reaper from injected collaborators.
func New(repo billing.Repository, quotas billing.QuotaService, notifier notify.Notifier, flags billing.ActiveFlags, grace time.Duration) *Reaper {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Reaper{
		repo:     repo,
		quotas:   quotas,
		notifier: notifier,
		flags:    flags,
		grace:    grace,
		interval: DefaultSweepInterval,
	}
}

// NewFromDB wires a reaper over a GORM handle. The grace period can be
// overridden with BILLING_GRACE_PERIOD_DAYS.
func NewFromDB(db *gorm.DB) *Reaper {
	grace := DefaultGracePeriod
	if days, err := strconv.Atoi(env.GetEnv("BILLING_GRACE_PERIOD_DAYS", "")); err == nil && days > 0 {
		grace = time.Duration(days) * 24 * time.Hour
	}
	ledger := quota.NewLedgerFromDB(db)
	return New(
		billing.NewRepository(db),
		billing.NewQuotaService(ledger),
		notify.NewSMTPNotifier(),
		billing.NewRedisFlags(),
		grace,
	)
}

// Start runs periodic sweeps until Stop is called.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		log.Printf("[Reaper] started, grace period %s, sweep interval %s", r.grace, r.interval)
		for {
			select {
			case <-ctx.Done():
				log.Println("[Reaper] stopped")
				return
			case <-ticker.C:
				if n, err := r.SweepOnce(ctx); err != nil {
					log.Printf("[Reaper] sweep failed: %v", err)
				} else if n > 0 {
					log.Printf("[Reaper] canceled %d expired past_due subscriptions", n)
				}
			}
		}
	}()
}

// Stop halts the background sweeps and waits for the worker to exit.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// SweepOnce cancels every subscription that has been past_due longer than
// the grace period and returns how many rows it canceled. Rows that change
// state between the listing and the guarded update are skipped, which makes
// a repeated sweep over the same window a no-op.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.grace)
	expired, err := r.repo.ListPastDueOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, sub := range expired {
		ok, err := r.reapOne(ctx, sub.ID, sub.OrganizationID)
		if err != nil {
			log.Printf("[Reaper] subscription %d: %v", sub.ID, err)
			continue
		}
		if !ok {
			continue
		}
		canceled++

		r.flags.Invalidate(sub.OrganizationID)
		if org, err := r.repo.GetOrganization(ctx, sub.OrganizationID); err == nil && org.BillingEmail != "" {
			if err := r.notifier.SendSubscriptionCanceled(org.BillingEmail, org.Name); err != nil {
				log.Printf("[Reaper] cancellation notification failed for org %d: %v", sub.OrganizationID, err)
			}
		}
	}
	return canceled, nil
}

func (r *Reaper) reapOne(ctx context.Context, subscriptionID, organizationID uint) (bool, error) {
	reaped := false
	err := r.repo.Transaction(ctx, func(txRepo billing.Repository) error {
		rows, err := txRepo.CancelPastDueSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if rows == 0 {
			// The subscription recovered or was already canceled.
			return nil
		}
		if err := txRepo.UpdateOrganization(ctx, organizationID, map[string]interface{}{
			"plan_tier": string(entitlements.TierFree),
		}); err != nil {
			return err
		}
		if err := r.quotas.WithTx(txRepo.TxHandle()).ApplyTierLimits(ctx, organizationID, entitlements.TierFree); err != nil {
			return err
		}
		reaped = true
		return nil
	})
	return reaped, err
}
