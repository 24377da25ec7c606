package billing

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/entitlements"
	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
	"github.com/PageForgeHQ/PageForge/internal/pkg/notify"
	"github.com/PageForgeHQ/PageForge/internal/pkg/quota"
	"gorm.io/gorm"
)

// IngestResult is the answer to one webhook delivery.
type IngestResult struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Ingestor turns the gateway's at-least-once, possibly concurrent, possibly
// out-of-order event stream into exactly-once local state transitions.
//
// Handlers apply each event's embedded snapshot as an overwrite, so a stale
// duplicate converges to the same result as the latest delivery. A genuinely
// out-of-order late arrival of an older snapshot can still regress state;
// that matches the gateway's own guidance and is accepted.
type Ingestor struct {
	repo      Repository
	quotas    QuotaService
	gateway   Gateway
	notifier  notify.Notifier
	flags     ActiveFlags
	secret    string
	tolerance time.Duration
}

// NewIngestor creates an ingestor from injected collaborators.
func NewIngestor(repo Repository, quotas QuotaService, gateway Gateway, notifier notify.Notifier, flags ActiveFlags, webhookSecret string) *Ingestor {
	return &Ingestor{
		repo:      repo,
		quotas:    quotas,
		gateway:   gateway,
		notifier:  notifier,
		flags:     flags,
		secret:    webhookSecret,
		tolerance: DefaultSignatureTolerance,
	}
}

// NewIngestorFromDB wires an ingestor over a GORM handle with the
// environment's Stripe client, SMTP notifier and redis flag cache.
func NewIngestorFromDB(db *gorm.DB) *Ingestor {
	ledger := quota.NewLedgerFromDB(db)
	return NewIngestor(
		NewRepository(db),
		NewQuotaService(ledger),
		NewStripeClientFromEnv(),
		notify.NewSMTPNotifier(),
		NewRedisFlags(),
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	)
}

// IngestEvent verifies, deduplicates and transactionally applies one webhook
// delivery. Non-transactional side effects (notification emails, cache
// invalidation) run only after the commit; a rolled-back transaction sends
// nothing and leaves the event eligible for the gateway's redelivery retry.
func (i *Ingestor) IngestEvent(ctx context.Context, payload []byte, signatureHeader string) (*IngestResult, error) {
	if !VerifyStripeWebhookSignature(payload, signatureHeader, i.secret, i.tolerance) {
		return nil, errs.Validation("invalid webhook signature")
	}

	event, err := ParseStripeWebhookEvent(payload)
	if err != nil {
		return nil, errs.Validation("malformed webhook payload")
	}

	_, stored, err := i.repo.CreateWebhookEventIfNotExists(ctx, &models.WebhookEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		PayloadJSON: string(payload),
	})
	if err != nil {
		return nil, errs.Persistence(err)
	}
	if stored.ProcessedAt != nil {
		return &IngestResult{Received: true, Duplicate: true}, nil
	}

	// Checkout completions need the gateway's authoritative subscription
	// snapshot; the session object alone carries no period or price detail.
	// The call happens before the transaction opens: gateway calls and local
	// mutations are never co-transactional.
	var checkoutSnap *GatewaySubscription
	var checkoutSess *CheckoutSessionEvent
	if event.Type == EventCheckoutCompleted {
		checkoutSess, err = ParseCheckoutSessionEvent(event.Object)
		if err != nil {
			return nil, errs.Validation("malformed checkout session payload")
		}
		gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
		checkoutSnap, err = i.gateway.RetrieveSubscription(gctx, checkoutSess.SubscriptionID)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	var effects []func()
	duplicate := false
	err = i.repo.Transaction(ctx, func(txRepo Repository) error {
		ev, claimed, err := txRepo.ClaimWebhookEvent(ctx, event.ID)
		if err != nil {
			return err
		}
		if !claimed {
			// A concurrent worker holds the row; it is a duplicate in flight.
			duplicate = true
			return nil
		}
		if ev.ProcessedAt != nil {
			duplicate = true
			return nil
		}
		if err := i.dispatch(ctx, txRepo, event, checkoutSess, checkoutSnap, &effects); err != nil {
			return err
		}
		return txRepo.MarkWebhookProcessed(ctx, ev.ID, "")
	})
	if err != nil {
		if errs.KindOf(err) != "" {
			return nil, err
		}
		return nil, errs.Persistence(err)
	}

	if !duplicate {
		for _, fx := range effects {
			fx()
		}
	}
	return &IngestResult{Received: true, Duplicate: duplicate}, nil
}

func (i *Ingestor) dispatch(ctx context.Context, txRepo Repository, event *StripeEvent, sess *CheckoutSessionEvent, snap *GatewaySubscription, effects *[]func()) error {
	switch event.Type {
	case EventCheckoutCompleted:
		return i.handleCheckoutCompleted(ctx, txRepo, sess, snap, effects)
	case EventSubscriptionUpdated:
		return i.handleSubscriptionUpdated(ctx, txRepo, event.Object, effects)
	case EventSubscriptionDeleted:
		return i.handleSubscriptionDeleted(ctx, txRepo, event.Object, effects)
	case EventInvoicePaid:
		return i.handleInvoicePaid(ctx, txRepo, event.Object, effects)
	case EventInvoicePaymentFailed:
		return i.handleInvoiceFailed(ctx, txRepo, event.Object, effects)
	case EventCustomerUpdated:
		return i.handleCustomerUpdated(ctx, txRepo, event.Object)
	case EventPaymentMethodAttached, EventPaymentMethodDetached:
		// No local state tracks payment methods; record and acknowledge.
		return nil
	case EventTrialWillEnd:
		return i.handleTrialWillEnd(ctx, txRepo, event.Object, effects)
	case EventInvoiceUpcoming:
		return i.handleInvoiceUpcoming(ctx, txRepo, event.Object, effects)
	default:
		log.Printf("webhook: ignoring unhandled event type %s", event.Type)
		return nil
	}
}

func (i *Ingestor) handleCheckoutCompleted(ctx context.Context, txRepo Repository, sess *CheckoutSessionEvent, snap *GatewaySubscription, effects *[]func()) error {
	tier := entitlements.TierFree
	cycle := cycleFromInterval(snap.Interval)
	amount := snap.AmountCents
	if mapping, err := txRepo.FindActivePlanMapping(ctx, snap.PriceID); err == nil {
		tier = entitlements.NormalizeTier(mapping.PlanTier)
		cycle = mapping.BillingCycle
		amount = mapping.AmountCents
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	} else {
		log.Printf("webhook: no plan mapping for price %s, defaulting to free tier", snap.PriceID)
	}

	customerID := sess.CustomerID
	if customerID == "" {
		customerID = snap.CustomerID
	}

	sub := &models.Subscription{
		OrganizationID:       sess.OrganizationID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sess.SubscriptionID,
		StripePriceID:        snap.PriceID,
		PlanTier:             string(tier),
		BillingCycle:         cycle,
		Status:               normalizeStripeStatus(snap.Status),
		CurrentPeriodStart:   snap.CurrentPeriodStart,
		CurrentPeriodEnd:     snap.CurrentPeriodEnd,
		CancelAtPeriodEnd:    snap.CancelAtPeriodEnd,
		AmountCents:          amount,
	}
	if err := txRepo.UpsertSubscription(ctx, sub); err != nil {
		return err
	}

	if err := txRepo.UpdateOrganization(ctx, sess.OrganizationID, map[string]interface{}{
		"plan_tier":          string(tier),
		"stripe_customer_id": customerID,
	}); err != nil {
		return err
	}
	if err := i.quotas.WithTx(txRepo.TxHandle()).ApplyTierLimits(ctx, sess.OrganizationID, tier); err != nil {
		return err
	}

	orgID := sess.OrganizationID
	*effects = append(*effects, func() { i.flags.Invalidate(orgID) })
	return nil
}

func (i *Ingestor) handleSubscriptionUpdated(ctx context.Context, txRepo Repository, object []byte, effects *[]func()) error {
	ev, err := ParseSubscriptionEvent(object)
	if err != nil {
		return errs.Validation("malformed subscription payload")
	}

	orgID := ev.OrganizationID
	local, err := txRepo.GetSubscriptionByStripeID(ctx, ev.SubscriptionID)
	if err == nil {
		orgID = local.OrganizationID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if orgID == 0 {
		log.Printf("webhook: subscription %s has no local row and no organization metadata, ignoring", ev.SubscriptionID)
		return nil
	}

	tier := entitlements.NormalizeTier("")
	amount := ev.AmountCents
	cycle := cycleFromInterval(ev.Interval)
	if local != nil {
		tier = entitlements.NormalizeTier(local.PlanTier)
	}
	if mapping, err := txRepo.FindActivePlanMapping(ctx, ev.PriceID); err == nil {
		tier = entitlements.NormalizeTier(mapping.PlanTier)
		cycle = mapping.BillingCycle
		amount = mapping.AmountCents
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	status := normalizeStripeStatus(ev.Status)
	sub := &models.Subscription{
		OrganizationID:       orgID,
		StripeCustomerID:     ev.CustomerID,
		StripeSubscriptionID: ev.SubscriptionID,
		StripePriceID:        ev.PriceID,
		PlanTier:             string(tier),
		BillingCycle:         cycle,
		Status:               status,
		CurrentPeriodStart:   ev.CurrentPeriodStart,
		CurrentPeriodEnd:     ev.CurrentPeriodEnd,
		CancelAtPeriodEnd:    ev.CancelAtPeriodEnd,
		CanceledAt:           ev.CanceledAt,
		AmountCents:          amount,
	}
	if err := txRepo.UpsertSubscription(ctx, sub); err != nil {
		return err
	}

	effectiveTier := tier
	if status == models.SubscriptionStatusCanceled {
		effectiveTier = entitlements.TierFree
	}
	if err := txRepo.UpdateOrganization(ctx, orgID, map[string]interface{}{
		"plan_tier": string(effectiveTier),
	}); err != nil {
		return err
	}
	if err := i.quotas.WithTx(txRepo.TxHandle()).ApplyTierLimits(ctx, orgID, effectiveTier); err != nil {
		return err
	}

	*effects = append(*effects, func() { i.flags.Invalidate(orgID) })
	return nil
}

func (i *Ingestor) handleSubscriptionDeleted(ctx context.Context, txRepo Repository, object []byte, effects *[]func()) error {
	ev, err := ParseSubscriptionEvent(object)
	if err != nil {
		return errs.Validation("malformed subscription payload")
	}

	local, err := txRepo.GetSubscriptionByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("webhook: deletion for unknown subscription %s, ignoring", ev.SubscriptionID)
			return nil
		}
		return err
	}

	now := time.Now()
	canceledAt := ev.CanceledAt
	if canceledAt == nil {
		canceledAt = &now
	}
	if _, err := txRepo.UpdateSubscriptionByStripeID(ctx, ev.SubscriptionID, map[string]interface{}{
		"status":               models.SubscriptionStatusCanceled,
		"cancel_at_period_end": false,
		"canceled_at":          canceledAt,
	}); err != nil {
		return err
	}

	orgID := local.OrganizationID
	if err := txRepo.UpdateOrganization(ctx, orgID, map[string]interface{}{
		"plan_tier": string(entitlements.TierFree),
	}); err != nil {
		return err
	}
	if err := i.quotas.WithTx(txRepo.TxHandle()).ApplyTierLimits(ctx, orgID, entitlements.TierFree); err != nil {
		return err
	}

	org, orgErr := txRepo.GetOrganization(ctx, orgID)
	*effects = append(*effects, func() {
		i.flags.Invalidate(orgID)
		if orgErr == nil && org.BillingEmail != "" {
			if err := i.notifier.SendSubscriptionCanceled(org.BillingEmail, org.Name); err != nil {
				log.Printf("webhook: subscription-canceled notification failed: %v", err)
			}
		}
	})
	return nil
}

func (i *Ingestor) handleInvoicePaid(ctx context.Context, txRepo Repository, object []byte, effects *[]func()) error {
	ev, err := ParseInvoiceEvent(object)
	if err != nil {
		return errs.Validation("malformed invoice payload")
	}
	if ev.SubscriptionID == "" {
		return nil
	}

	// Recovery path: a successful payment moves past_due back to active.
	// The status guard makes replays no-ops.
	rows, err := txRepo.UpdateSubscriptionStatusIf(ctx, ev.SubscriptionID,
		models.SubscriptionStatusPastDue, models.SubscriptionStatusActive)
	if err != nil {
		return err
	}
	if rows > 0 {
		if local, err := txRepo.GetSubscriptionByStripeID(ctx, ev.SubscriptionID); err == nil {
			orgID := local.OrganizationID
			*effects = append(*effects, func() { i.flags.Invalidate(orgID) })
		}
	}
	return nil
}

func (i *Ingestor) handleInvoiceFailed(ctx context.Context, txRepo Repository, object []byte, effects *[]func()) error {
	ev, err := ParseInvoiceEvent(object)
	if err != nil {
		return errs.Validation("malformed invoice payload")
	}
	if ev.SubscriptionID == "" {
		return nil
	}

	rows, err := txRepo.UpdateSubscriptionStatusIf(ctx, ev.SubscriptionID,
		models.SubscriptionStatusActive, models.SubscriptionStatusPastDue)
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	local, err := txRepo.GetSubscriptionByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}
	orgID := local.OrganizationID
	org, orgErr := txRepo.GetOrganization(ctx, orgID)
	*effects = append(*effects, func() {
		i.flags.Invalidate(orgID)
		if orgErr == nil && org.BillingEmail != "" {
			if err := i.notifier.SendPaymentFailed(org.BillingEmail, org.Name); err != nil {
				log.Printf("webhook: payment-failed notification failed: %v", err)
			}
		}
	})
	return nil
}

func (i *Ingestor) handleCustomerUpdated(ctx context.Context, txRepo Repository, object []byte) error {
	ev, err := ParseCustomerEvent(object)
	if err != nil {
		return errs.Validation("malformed customer payload")
	}
	org, err := txRepo.GetOrganizationByCustomerID(ctx, ev.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if ev.Email == "" || ev.Email == org.BillingEmail {
		return nil
	}
	return txRepo.UpdateOrganization(ctx, org.ID, map[string]interface{}{
		"billing_email": ev.Email,
	})
}

func (i *Ingestor) handleTrialWillEnd(ctx context.Context, txRepo Repository, object []byte, effects *[]func()) error {
	ev, err := ParseSubscriptionEvent(object)
	if err != nil {
		return errs.Validation("malformed subscription payload")
	}
	local, err := txRepo.GetSubscriptionByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	org, err := txRepo.GetOrganization(ctx, local.OrganizationID)
	if err != nil {
		return err
	}

	daysLeft := 3
	if ev.TrialEnd != nil {
		if d := int(time.Until(*ev.TrialEnd).Hours() / 24); d >= 0 {
			daysLeft = d
		}
	}
	email, name := org.BillingEmail, org.Name
	*effects = append(*effects, func() {
		if email != "" {
			if err := i.notifier.SendTrialEnding(email, name, daysLeft); err != nil {
				log.Printf("webhook: trial-ending notification failed: %v", err)
			}
		}
	})
	return nil
}

func (i *Ingestor) handleInvoiceUpcoming(ctx context.Context, txRepo Repository, object []byte, effects *[]func()) error {
	ev, err := ParseInvoiceEvent(object)
	if err != nil {
		return errs.Validation("malformed invoice payload")
	}
	org, err := txRepo.GetOrganizationByCustomerID(ctx, ev.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	email, name, amount := org.BillingEmail, org.Name, ev.AmountDueCents
	*effects = append(*effects, func() {
		if email != "" {
			if err := i.notifier.SendInvoiceUpcoming(email, name, amount); err != nil {
				log.Printf("webhook: invoice-upcoming notification failed: %v", err)
			}
		}
	})
	return nil
}
