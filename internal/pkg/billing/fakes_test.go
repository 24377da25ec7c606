package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/entitlements"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
)

// memRepo is an in-memory Repository. Transactions serialize on a mutex and
// emulate rollback by snapshotting state before fn runs; claim bookkeeping
// mirrors the skip-locked row claim.
type memRepo struct {
	mu   sync.Mutex
	txMu sync.Mutex

	events   map[string]*models.WebhookEvent
	eventSeq uint
	subs     map[string]*models.Subscription
	subSeq   uint
	orgs     map[uint]*models.Organization
	mappings []models.PlanMapping

	claimed map[string]bool
	inTx    []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		events:  make(map[string]*models.WebhookEvent),
		subs:    make(map[string]*models.Subscription),
		orgs:    make(map[uint]*models.Organization),
		claimed: make(map[string]bool),
	}
}

func (r *memRepo) addOrg(org models.Organization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := org
	r.orgs[org.ID] = &cp
}

func (r *memRepo) addSub(sub models.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subSeq++
	if sub.ID == 0 {
		sub.ID = r.subSeq
	}
	cp := sub
	r.subs[sub.StripeSubscriptionID] = &cp
}

func (r *memRepo) addMapping(m models.PlanMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings = append(r.mappings, m)
}

func (r *memRepo) subByStripeID(id string) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[id]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

func (r *memRepo) org(id uint) *models.Organization {
	r.mu.Lock()
	defer r.mu.Unlock()
	if org, ok := r.orgs[id]; ok {
		cp := *org
		return &cp
	}
	return nil
}

func (r *memRepo) event(eventID string) *models.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := r.events[eventID]; ok {
		cp := *ev
		return &cp
	}
	return nil
}

type memSnapshot struct {
	events   map[string]*models.WebhookEvent
	subs     map[string]*models.Subscription
	orgs     map[uint]*models.Organization
	mappings []models.PlanMapping
}

func (r *memRepo) snapshot() memSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := memSnapshot{
		events:   make(map[string]*models.WebhookEvent, len(r.events)),
		subs:     make(map[string]*models.Subscription, len(r.subs)),
		orgs:     make(map[uint]*models.Organization, len(r.orgs)),
		mappings: append([]models.PlanMapping(nil), r.mappings...),
	}
	for k, v := range r.events {
		cp := *v
		snap.events[k] = &cp
	}
	for k, v := range r.subs {
		cp := *v
		snap.subs[k] = &cp
	}
	for k, v := range r.orgs {
		cp := *v
		snap.orgs[k] = &cp
	}
	return snap
}

func (r *memRepo) restore(snap memSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = snap.events
	r.subs = snap.subs
	r.orgs = snap.orgs
	r.mappings = snap.mappings
}

func (r *memRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *memRepo) Transaction(ctx context.Context, fn func(txRepo Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snap := r.snapshot()
	err := fn(r)

	r.mu.Lock()
	for _, id := range r.inTx {
		delete(r.claimed, id)
	}
	r.inTx = nil
	r.mu.Unlock()

	if err != nil {
		r.restore(snap)
	}
	return err
}

func (r *memRepo) TxHandle() *gorm.DB { return nil }

func (r *memRepo) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.events[event.EventID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.eventSeq++
	cp := *event
	cp.ID = r.eventSeq
	cp.CreatedAt = time.Now()
	r.events[event.EventID] = &cp
	out := cp
	return true, &out, nil
}

func (r *memRepo) ClaimWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return nil, false, gorm.ErrRecordNotFound
	}
	if r.claimed[eventID] {
		return nil, false, nil
	}
	r.claimed[eventID] = true
	r.inTx = append(r.inTx, eventID)
	cp := *ev
	return &cp, true, nil
}

func (r *memRepo) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, ev := range r.events {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memRepo) GetLiveSubscriptionByOrg(ctx context.Context, organizationID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.OrganizationID == organizationID && sub.IsLive() {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[stripeSubscriptionID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.subs[sub.StripeSubscriptionID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		r.subSeq++
		sub.ID = r.subSeq
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = time.Now()
	cp := *sub
	r.subs[sub.StripeSubscriptionID] = &cp
	return nil
}

func applySubUpdates(sub *models.Subscription, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			sub.Status = v.(string)
		case "cancel_at_period_end":
			sub.CancelAtPeriodEnd = v.(bool)
		case "canceled_at":
			if ts, ok := v.(*time.Time); ok {
				sub.CanceledAt = ts
			}
		case "plan_tier":
			sub.PlanTier = v.(string)
		case "billing_cycle":
			sub.BillingCycle = v.(string)
		case "stripe_price_id":
			sub.StripePriceID = v.(string)
		case "amount_cents":
			sub.AmountCents = v.(int64)
		}
	}
	sub.UpdatedAt = time.Now()
}

func (r *memRepo) UpdateSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string, updates map[string]interface{}) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[stripeSubscriptionID]
	if !ok {
		return 0, nil
	}
	applySubUpdates(sub, updates)
	return 1, nil
}

func (r *memRepo) UpdateSubscriptionStatusIf(ctx context.Context, stripeSubscriptionID, fromStatus, toStatus string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[stripeSubscriptionID]
	if !ok || sub.Status != fromStatus {
		return 0, nil
	}
	sub.Status = toStatus
	sub.UpdatedAt = time.Now()
	return 1, nil
}

func (r *memRepo) ListPastDueOlderThan(ctx context.Context, cutoff time.Time) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.Status == models.SubscriptionStatusPastDue && sub.UpdatedAt.Before(cutoff) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *memRepo) CancelPastDueSubscription(ctx context.Context, id uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ID == id && sub.Status == models.SubscriptionStatusPastDue {
			now := time.Now()
			sub.Status = models.SubscriptionStatusCanceled
			sub.CancelAtPeriodEnd = false
			sub.CanceledAt = &now
			sub.UpdatedAt = now
			return 1, nil
		}
	}
	return 0, nil
}

func (r *memRepo) FindActivePlanMapping(ctx context.Context, stripePriceID string) (*models.PlanMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.mappings {
		if r.mappings[i].StripePriceID == stripePriceID && r.mappings[i].IsActive {
			cp := r.mappings[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) FindPlanMappingForTier(ctx context.Context, planTier, billingCycle string) (*models.PlanMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.mappings {
		if r.mappings[i].PlanTier == planTier && r.mappings[i].BillingCycle == billingCycle && r.mappings[i].IsActive {
			cp := r.mappings[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetOrganization(ctx context.Context, id uint) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if org, ok := r.orgs[id]; ok {
		cp := *org
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetOrganizationByCustomerID(ctx context.Context, stripeCustomerID string) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, org := range r.orgs {
		if org.StripeCustomerID == stripeCustomerID {
			cp := *org
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) UpdateOrganization(ctx context.Context, id uint, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.orgs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "plan_tier":
			org.PlanTier = v.(string)
		case "stripe_customer_id":
			org.StripeCustomerID = v.(string)
		case "billing_email":
			org.BillingEmail = v.(string)
		}
	}
	org.UpdatedAt = time.Now()
	return nil
}

// memDirectory serves ownership checks from the same in-memory org table.
type memDirectory struct {
	repo *memRepo
}

func (d memDirectory) GetOrganization(ctx context.Context, id uint) (*models.Organization, error) {
	org, err := d.repo.GetOrganization(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("organization not found")
		}
		return nil, errs.Persistence(err)
	}
	return org, nil
}

type tierApply struct {
	org  uint
	tier entitlements.Tier
}

// fakeQuotaService records limit rewrites and can fail on demand.
type fakeQuotaService struct {
	mu      sync.Mutex
	applied []tierApply
	failErr error
}

func (f *fakeQuotaService) ApplyTierLimits(ctx context.Context, organizationID uint, tier entitlements.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.applied = append(f.applied, tierApply{org: organizationID, tier: tier})
	return nil
}

func (f *fakeQuotaService) ProvisionDefaults(ctx context.Context, organizationID uint, tier entitlements.Tier) error {
	return nil
}

func (f *fakeQuotaService) WithTx(tx *gorm.DB) QuotaService { return f }

func (f *fakeQuotaService) applyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func (f *fakeQuotaService) lastApply() (tierApply, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applied) == 0 {
		return tierApply{}, false
	}
	return f.applied[len(f.applied)-1], true
}

func (f *fakeQuotaService) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// fakeGateway returns canned responses and records calls.
type fakeGateway struct {
	mu sync.Mutex

	retrieveResp *GatewaySubscription
	retrieveErr  error
	updateErr    error
	cancelErr    error
	checkoutErr  error

	customersCreated int
	checkoutCalls    int
	updateCalls      int
	cancelCalls      int
	lastAtPeriodEnd  bool
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, name string, organizationID uint) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customersCreated++
	return &Customer{ID: "cus_new", Email: email, Name: name}, nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.checkoutCalls++
	return &CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func (g *fakeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	return &PortalSession{URL: "https://portal.test/" + customerID}, nil
}

func (g *fakeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	if g.retrieveResp != nil {
		cp := *g.retrieveResp
		return &cp, nil
	}
	return &GatewaySubscription{ID: subscriptionID, Status: "active"}, nil
}

func (g *fakeGateway) UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	g.updateCalls++
	return &GatewaySubscription{ID: subscriptionID, PriceID: priceID, Status: "active"}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	g.cancelCalls++
	g.lastAtPeriodEnd = atPeriodEnd
	status := "active"
	if !atPeriodEnd {
		status = "canceled"
	}
	return &GatewaySubscription{ID: subscriptionID, Status: status, CancelAtPeriodEnd: atPeriodEnd}, nil
}

// fakeNotifier counts outbound notifications.
type fakeNotifier struct {
	mu              sync.Mutex
	paymentFailed   int
	trialEnding     int
	canceled        int
	invoiceUpcoming int
}

func (n *fakeNotifier) SendPaymentFailed(to, orgName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentFailed++
	return nil
}

func (n *fakeNotifier) SendTrialEnding(to, orgName string, daysLeft int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trialEnding++
	return nil
}

func (n *fakeNotifier) SendSubscriptionCanceled(to, orgName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.canceled++
	return nil
}

func (n *fakeNotifier) SendInvoiceUpcoming(to, orgName string, amountCents int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invoiceUpcoming++
	return nil
}

func (n *fakeNotifier) counts() (paymentFailed, trialEnding, canceled, invoiceUpcoming int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paymentFailed, n.trialEnding, n.canceled, n.invoiceUpcoming
}

// memFlags is an in-memory ActiveFlags with an invalidation counter.
type memFlags struct {
	mu            sync.Mutex
	values        map[uint]bool
	invalidations int
}

func newMemFlags() *memFlags {
	return &memFlags{values: make(map[uint]bool)}
}

func (f *memFlags) Get(organizationID uint) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[organizationID]
	return v, ok
}

func (f *memFlags) Set(organizationID uint, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[organizationID] = active
}

func (f *memFlags) Invalidate(organizationID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, organizationID)
	f.invalidations++
}

func (f *memFlags) invalidationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidations
}
