package billing

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Event types the ingestor understands. Anything else is recorded and
// acknowledged without a handler run.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaid           = "invoice.paid"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventCustomerUpdated       = "customer.updated"
	EventPaymentMethodAttached = "payment_method.attached"
	EventPaymentMethodDetached = "payment_method.detached"
	EventTrialWillEnd          = "customer.subscription.trial_will_end"
	EventInvoiceUpcoming       = "invoice.upcoming"
)

// StripeEvent is the processor's event envelope.
type StripeEvent struct {
	ID      string
	Type    string
	Created int64
	Object  json.RawMessage
}

type stripeEventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseStripeWebhookEvent decodes the event envelope from a raw delivery.
func ParseStripeWebhookEvent(raw []byte) (*StripeEvent, error) {
	var env stripeEventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, errors.New("webhook event is missing an id")
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, errors.New("webhook event is missing a type")
	}
	return &StripeEvent{
		ID:      env.ID,
		Type:    env.Type,
		Created: env.Created,
		Object:  env.Data.Object,
	}, nil
}

// CheckoutSessionEvent is the parsed checkout.session.completed object.
type CheckoutSessionEvent struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	OrganizationID uint
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseCheckoutSessionEvent decodes a checkout session object. The
// organization id comes from the client reference set at session-creation
// time; the webhook itself carries no user identity.
func ParseCheckoutSessionEvent(raw []byte) (*CheckoutSessionEvent, error) {
	var obj checkoutSessionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	orgID := parseOrganizationRef(obj.ClientReferenceID, obj.Metadata)
	if orgID == 0 {
		return nil, errors.New("checkout session carries no organization reference")
	}
	if strings.TrimSpace(obj.Subscription) == "" {
		return nil, errors.New("checkout session carries no subscription id")
	}
	return &CheckoutSessionEvent{
		SessionID:      obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		OrganizationID: orgID,
	}, nil
}

// SubscriptionEvent is the parsed subscription object snapshot. Status and
// period boundaries are authoritative overwrites, not deltas.
type SubscriptionEvent struct {
	SubscriptionID     string
	CustomerID         string
	Status             string
	PriceID            string
	Interval           string
	AmountCents        int64
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	TrialEnd           *time.Time
	OrganizationID     uint
}

type subscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CanceledAt         int64  `json:"canceled_at"`
	TrialEnd           int64  `json:"trial_end"`
	Items              struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unit_amount"`
				Recurring  struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// ParseSubscriptionEvent decodes a subscription object.
func ParseSubscriptionEvent(raw []byte) (*SubscriptionEvent, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if strings.TrimSpace(obj.ID) == "" {
		return nil, errors.New("subscription object is missing an id")
	}
	ev := &SubscriptionEvent{
		SubscriptionID:     obj.ID,
		CustomerID:         obj.Customer,
		Status:             obj.Status,
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		CurrentPeriodStart: unixTime(obj.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(obj.CurrentPeriodEnd),
		CanceledAt:         unixTime(obj.CanceledAt),
		TrialEnd:           unixTime(obj.TrialEnd),
		OrganizationID:     parseOrganizationRef("", obj.Metadata),
	}
	if len(obj.Items.Data) > 0 {
		ev.PriceID = obj.Items.Data[0].Price.ID
		ev.AmountCents = obj.Items.Data[0].Price.UnitAmount
		ev.Interval = obj.Items.Data[0].Price.Recurring.Interval
	}
	return ev, nil
}

// InvoiceEvent is the parsed invoice object.
type InvoiceEvent struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	AmountDueCents int64
}

type invoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountDue    int64  `json:"amount_due"`
}

// ParseInvoiceEvent decodes an invoice object.
func ParseInvoiceEvent(raw []byte) (*InvoiceEvent, error) {
	var obj invoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return &InvoiceEvent{
		InvoiceID:      obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		AmountDueCents: obj.AmountDue,
	}, nil
}

// CustomerEvent is the parsed customer object.
type CustomerEvent struct {
	CustomerID string
	Email      string
	Name       string
}

type customerObject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ParseCustomerEvent decodes a customer object.
func ParseCustomerEvent(raw []byte) (*CustomerEvent, error) {
	var obj customerObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return &CustomerEvent{CustomerID: obj.ID, Email: obj.Email, Name: obj.Name}, nil
}

func parseOrganizationRef(clientReferenceID string, metadata map[string]string) uint {
	candidates := []string{strings.TrimSpace(clientReferenceID)}
	if metadata != nil {
		candidates = append(candidates, strings.TrimSpace(metadata["organization_id"]))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if id, err := strconv.ParseUint(c, 10, 32); err == nil && id > 0 {
			return uint(id)
		}
	}
	return 0
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
