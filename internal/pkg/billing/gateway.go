package billing

import (
	"context"
	"time"
)

// Customer is the gateway's customer object, reduced to what the engine needs.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// CheckoutSession is a hosted checkout session created at the gateway.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a hosted customer-portal session.
type PortalSession struct {
	URL string
}

// GatewaySubscription is the gateway's authoritative subscription snapshot.
type GatewaySubscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	Interval           string
	AmountCents        int64
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time

	// itemID identifies the line item inside the gateway subscription; price
	// swaps need it so the new price replaces the old one.
	itemID string
}

// CheckoutSessionParams carries everything the gateway needs to build a
// checkout session. ClientReferenceID ties the session back to the
// organization when the completion webhook arrives.
type CheckoutSessionParams struct {
	CustomerID        string
	PriceID           string
	ClientReferenceID string
	OrganizationID    uint
	SuccessURL        string
	CancelURL         string
	TrialDays         int
}

// Gateway abstracts the payment processor. All calls may fail with rate-limit
// or timeout errors, which implementations normalize to the gateway error
// kind. The gateway is the source of truth for billing state; the local store
// only caches the enforced view.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string, organizationID uint) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*GatewaySubscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*GatewaySubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*GatewaySubscription, error)
}
