package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
	"github.com/google/uuid"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// gatewayTimeout keeps gateway calls well under the engine's own
// response-time budget, webhook deliveries included.
const gatewayTimeout = 10 * time.Second

// StripeClient implements Gateway against the Stripe REST API.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewStripeClientFromEnv builds a client from STRIPE_* environment variables.
func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: gatewayTimeout,
		},
	}
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string, organizationID uint) (*Customer, error) {
	form := url.Values{}
	form.Set("email", strings.TrimSpace(email))
	form.Set("name", strings.TrimSpace(name))
	form.Set("metadata[organization_id]", strconv.FormatUint(uint64(organizationID), 10))

	var out struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.do(ctx, http.MethodPost, "/customers", form, &out); err != nil {
		return nil, err
	}
	return &Customer{ID: out.ID, Email: out.Email, Name: out.Name}, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if strings.TrimSpace(params.PriceID) == "" {
		return nil, errs.Validation("checkout requires a price reference")
	}
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("client_reference_id", params.ClientReferenceID)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("subscription_data[metadata][organization_id]", strconv.FormatUint(uint64(params.OrganizationID), 10))
	if params.CustomerID != "" {
		form.Set("customer", params.CustomerID)
	}
	if params.TrialDays > 0 {
		form.Set("subscription_data[trial_period_days]", strconv.Itoa(params.TrialDays))
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: out.ID, URL: out.URL}, nil
}

func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errs.Validation("portal session requires a customer reference")
	}
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/billing_portal/sessions", form, &out); err != nil {
		return nil, err
	}
	return &PortalSession{URL: out.URL}, nil
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*GatewaySubscription, error) {
	var out subscriptionObject
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &out); err != nil {
		return nil, err
	}
	return gatewaySubscriptionFromObject(&out), nil
}

func (c *StripeClient) UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*GatewaySubscription, error) {
	// Fetch the current item id so the price swap replaces instead of adds.
	current, err := c.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("items[0][id]", current.itemID)
	form.Set("items[0][price]", priceID)
	form.Set("proration_behavior", "create_prorations")

	var out subscriptionObject
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(subscriptionID), form, &out); err != nil {
		return nil, err
	}
	return gatewaySubscriptionFromObject(&out), nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*GatewaySubscription, error) {
	var out subscriptionObject
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		if err := c.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(subscriptionID), form, &out); err != nil {
			return nil, err
		}
	} else {
		if err := c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &out); err != nil {
			return nil, err
		}
	}
	return gatewaySubscriptionFromObject(&out), nil
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errs.Gateway("billing provider is not configured", errors.New("STRIPE_SECRET_KEY is not configured"))
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return errs.Gateway("", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errs.Gateway("billing provider request timed out", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.Gateway("billing provider is rate limiting requests",
			fmt.Errorf("stripe rate limit: status=%d body=%s", resp.StatusCode, string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.Gateway("billing provider rejected the request",
			fmt.Errorf("stripe request failed: status=%d body=%s", resp.StatusCode, string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Gateway("billing provider returned an unexpected response", err)
	}
	return nil
}

// itemID is carried alongside the snapshot for price swaps.
func gatewaySubscriptionFromObject(obj *subscriptionObject) *GatewaySubscription {
	sub := &GatewaySubscription{
		ID:                 obj.ID,
		CustomerID:         obj.Customer,
		Status:             obj.Status,
		CurrentPeriodStart: unixTime(obj.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(obj.CurrentPeriodEnd),
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		CanceledAt:         unixTime(obj.CanceledAt),
	}
	if len(obj.Items.Data) > 0 {
		sub.PriceID = obj.Items.Data[0].Price.ID
		sub.AmountCents = obj.Items.Data[0].Price.UnitAmount
		sub.Interval = obj.Items.Data[0].Price.Recurring.Interval
		sub.itemID = obj.Items.Data[0].ID
	}
	return sub
}
