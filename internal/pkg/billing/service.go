package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/entitlements"
	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
	"github.com/PageForgeHQ/PageForge/internal/pkg/organizations"
	"github.com/PageForgeHQ/PageForge/internal/pkg/quota"
	"gorm.io/gorm"
)

// QuotaService is the slice of the quota ledger the billing engine drives:
// tier changes rewrite limits, provisioning seeds counters.
type QuotaService interface {
	ApplyTierLimits(ctx context.Context, organizationID uint, tier entitlements.Tier) error
	ProvisionDefaults(ctx context.Context, organizationID uint, tier entitlements.Tier) error
	WithTx(tx *gorm.DB) QuotaService
}

type ledgerQuotaService struct {
	ledger *quota.Ledger
}

// NewQuotaService adapts the quota ledger to the billing engine's needs.
func NewQuotaService(l *quota.Ledger) QuotaService {
	return ledgerQuotaService{ledger: l}
}

func (s ledgerQuotaService) ApplyTierLimits(ctx context.Context, organizationID uint, tier entitlements.Tier) error {
	return s.ledger.ApplyTierLimits(ctx, organizationID, tier)
}

func (s ledgerQuotaService) ProvisionDefaults(ctx context.Context, organizationID uint, tier entitlements.Tier) error {
	return s.ledger.ProvisionDefaults(ctx, organizationID, tier)
}

func (s ledgerQuotaService) WithTx(tx *gorm.DB) QuotaService {
	return ledgerQuotaService{ledger: s.ledger.WithTx(tx)}
}

// Service drives the subscription lifecycle: owner-initiated actions call the
// gateway first and mutate local state after the gateway confirms. The local
// store is the enforced view; the gateway stays the source of truth.
type Service struct {
	repo    Repository
	quotas  QuotaService
	gateway Gateway
	orgs    organizations.Directory
	flags   ActiveFlags
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, quotas QuotaService, gateway Gateway, orgs organizations.Directory, flags ActiveFlags) *Service {
	return &Service{repo: repo, quotas: quotas, gateway: gateway, orgs: orgs, flags: flags}
}

// NewServiceFromDB wires a service over a GORM handle with the environment's
// Stripe client and the redis-backed flag cache.
func NewServiceFromDB(db *gorm.DB) *Service {
	ledger := quota.NewLedgerFromDB(db)
	return NewService(
		NewRepository(db),
		NewQuotaService(ledger),
		NewStripeClientFromEnv(),
		organizations.NewDirectory(db),
		NewRedisFlags(),
	)
}

// requireOwner verifies the acting user owns the organization before any
// external call or local mutation happens.
func (s *Service) requireOwner(ctx context.Context, organizationID, userID uint) (*models.Organization, error) {
	org, err := s.orgs.GetOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if userID == 0 || org.OwnerID != userID {
		return nil, errs.Authorization("only the organization owner can manage billing")
	}
	return org, nil
}

// CreateCheckoutSession starts a hosted checkout for a paid tier and returns
// its URL. Ownership is checked here, at session-creation time, because the
// completion webhook is server-to-server and carries no user identity.
func (s *Service) CreateCheckoutSession(ctx context.Context, organizationID, userID uint, tier, cycle string) (string, error) {
	org, err := s.requireOwner(ctx, organizationID, userID)
	if err != nil {
		return "", err
	}

	target := entitlements.NormalizeTier(tier)
	if target == entitlements.TierFree {
		return "", errs.Validation("checkout requires a paid plan tier")
	}
	billingCycle := entitlements.NormalizeCycle(cycle)

	if _, err := s.repo.GetLiveSubscriptionByOrg(ctx, organizationID); err == nil {
		return "", errs.Conflict("Organization already has an active subscription")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errs.Persistence(err)
	}

	mapping, err := s.repo.FindPlanMappingForTier(ctx, string(target), billingCycle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errs.Validation(fmt.Sprintf("no price is configured for the %s/%s plan", target, billingCycle))
		}
		return "", errs.Persistence(err)
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	customerID := org.StripeCustomerID
	if customerID == "" {
		customer, err := s.gateway.CreateCustomer(gctx, org.BillingEmail, org.Name, organizationID)
		if err != nil {
			return "", err
		}
		customerID = customer.ID
		if err := s.repo.UpdateOrganization(ctx, organizationID, map[string]interface{}{
			"stripe_customer_id": customerID,
		}); err != nil {
			return "", errs.Persistence(err)
		}
	}

	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	session, err := s.gateway.CreateCheckoutSession(gctx, CheckoutSessionParams{
		CustomerID:        customerID,
		PriceID:           mapping.StripePriceID,
		ClientReferenceID: strconv.FormatUint(uint64(organizationID), 10),
		OrganizationID:    organizationID,
		SuccessURL:        base + "/settings/billing?checkout=success",
		CancelURL:         base + "/settings/billing?checkout=canceled",
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// GetCurrentSubscription returns the organization's live subscription row.
func (s *Service) GetCurrentSubscription(ctx context.Context, organizationID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetLiveSubscriptionByOrg(ctx, organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("no active subscription for this organization")
		}
		return nil, errs.Persistence(err)
	}
	return sub, nil
}

// CancelSubscription cancels at the gateway, then records the transition
// locally. Immediate cancellation drops the organization to the free tier
// right away; otherwise only the cancel-at-period-end flag flips.
func (s *Service) CancelSubscription(ctx context.Context, organizationID, userID uint, immediate bool) error {
	if _, err := s.requireOwner(ctx, organizationID, userID); err != nil {
		return err
	}
	sub, err := s.repo.GetLiveSubscriptionByOrg(ctx, organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.NotFound("no active subscription for this organization")
		}
		return errs.Persistence(err)
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	if _, err := s.gateway.CancelSubscription(gctx, sub.StripeSubscriptionID, !immediate); err != nil {
		return err
	}

	if immediate {
		err = s.repo.Transaction(ctx, func(txRepo Repository) error {
			now := time.Now()
			if _, err := txRepo.UpdateSubscriptionByStripeID(ctx, sub.StripeSubscriptionID, map[string]interface{}{
				"status":               models.SubscriptionStatusCanceled,
				"cancel_at_period_end": false,
				"canceled_at":          &now,
			}); err != nil {
				return err
			}
			if err := txRepo.UpdateOrganization(ctx, organizationID, map[string]interface{}{
				"plan_tier": string(entitlements.TierFree),
			}); err != nil {
				return err
			}
			return s.quotas.WithTx(txRepo.TxHandle()).ApplyTierLimits(ctx, organizationID, entitlements.TierFree)
		})
	} else {
		_, err = s.repo.UpdateSubscriptionByStripeID(ctx, sub.StripeSubscriptionID, map[string]interface{}{
			"cancel_at_period_end": true,
		})
	}
	if err != nil {
		return errs.Persistence(err)
	}

	s.flags.Invalidate(organizationID)
	return nil
}

// UpgradeSubscription moves a live subscription to a higher tier. Moving down
// through this path is rejected; proration is the gateway's job and the local
// row only records tier, cycle and price after the gateway confirms.
func (s *Service) UpgradeSubscription(ctx context.Context, organizationID, userID uint, tier, cycle string) error {
	if _, err := s.requireOwner(ctx, organizationID, userID); err != nil {
		return err
	}
	sub, err := s.repo.GetLiveSubscriptionByOrg(ctx, organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.NotFound("no active subscription for this organization")
		}
		return errs.Persistence(err)
	}

	target := entitlements.NormalizeTier(tier)
	current := entitlements.NormalizeTier(sub.PlanTier)
	if entitlements.TierRank(target) <= entitlements.TierRank(current) {
		return errs.Conflict(fmt.Sprintf("cannot move from %s to %s through an upgrade; use the downgrade path instead", current, target))
	}
	billingCycle := entitlements.NormalizeCycle(cycle)

	mapping, err := s.repo.FindPlanMappingForTier(ctx, string(target), billingCycle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Validation(fmt.Sprintf("no price is configured for the %s/%s plan", target, billingCycle))
		}
		return errs.Persistence(err)
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	confirmed, err := s.gateway.UpdateSubscription(gctx, sub.StripeSubscriptionID, mapping.StripePriceID)
	if err != nil {
		return err
	}

	err = s.repo.Transaction(ctx, func(txRepo Repository) error {
		if _, err := txRepo.UpdateSubscriptionByStripeID(ctx, sub.StripeSubscriptionID, map[string]interface{}{
			"plan_tier":       string(target),
			"billing_cycle":   billingCycle,
			"stripe_price_id": mapping.StripePriceID,
			"amount_cents":    mapping.AmountCents,
		}); err != nil {
			return err
		}
		if err := txRepo.UpdateOrganization(ctx, organizationID, map[string]interface{}{
			"plan_tier": string(target),
		}); err != nil {
			return err
		}
		return s.quotas.WithTx(txRepo.TxHandle()).ApplyTierLimits(ctx, organizationID, target)
	})
	if err != nil {
		return errs.Persistence(err)
	}

	s.flags.Invalidate(organizationID)
	if confirmed != nil && confirmed.Status != "" {
		log.Printf("subscription %s upgraded to %s (%s), gateway status %s",
			sub.StripeSubscriptionID, target, billingCycle, confirmed.Status)
	}
	return nil
}

// GetCustomerPortalURL returns a hosted portal session URL for the owner.
func (s *Service) GetCustomerPortalURL(ctx context.Context, organizationID, userID uint) (string, error) {
	org, err := s.requireOwner(ctx, organizationID, userID)
	if err != nil {
		return "", err
	}
	customerID := org.StripeCustomerID
	if customerID == "" {
		sub, err := s.repo.GetLiveSubscriptionByOrg(ctx, organizationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", errs.NotFound("no billing account for this organization")
			}
			return "", errs.Persistence(err)
		}
		customerID = sub.StripeCustomerID
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	session, err := s.gateway.CreatePortalSession(gctx, customerID, base+"/settings/billing")
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// HasActiveSubscription answers the hot-path entitlement question through the
// flag cache, falling back to the store on a miss.
func (s *Service) HasActiveSubscription(ctx context.Context, organizationID uint) (bool, error) {
	if active, found := s.flags.Get(organizationID); found {
		return active, nil
	}
	_, err := s.repo.GetLiveSubscriptionByOrg(ctx, organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.flags.Set(organizationID, false)
			return false, nil
		}
		return false, errs.Persistence(err)
	}
	s.flags.Set(organizationID, true)
	return true, nil
}
