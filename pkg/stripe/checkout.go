package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
)

// Metadata keys stamped on every checkout session so webhook deliveries can be
// traced back to the ledger entry.
const (
	MetadataContributionID = "contribution_id"
	MetadataRegistryID     = "registry_id"
	MetadataItemID         = "item_id"

	registryPlaceholder = "{registry_id}"
)

// CheckoutSessionRequest describes a one-off payment for a single contribution.
type CheckoutSessionRequest struct {
	ContributionID uuid.UUID
	RegistryID     uuid.UUID
	ItemID         *uuid.UUID
	AmountCents    int64
	Description    string
	CustomerEmail  string
}

// CheckoutSession is the provider's answer: the session id (our external
// reference) and the hosted payment page.
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutSessionCreator opens hosted payment sessions.
type CheckoutSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
}

type sessionNewFunc func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

type checkoutClient struct {
	currency   string
	successURL string
	cancelURL  string
	create     sessionNewFunc
}

// NewCheckoutSessionCreator wraps the Stripe checkout API.
func NewCheckoutSessionCreator(api *Client) CheckoutSessionCreator {
	if api == nil {
		return nil
	}
	return &checkoutClient{
		currency:   api.Currency(),
		successURL: api.successURL,
		cancelURL:  api.cancelURL,
		create:     session.New,
	}
}

func (c *checkoutClient) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.AmountCents <= 0 {
		return nil, errors.New("checkout amount must be positive")
	}
	params := buildSessionParams(c.currency, c.successURL, c.cancelURL, req)
	params.Context = ctx

	sess, err := c.create(params)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.ID == "" {
		return nil, errors.New("stripe returned an empty checkout session")
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func buildSessionParams(currency, successURL, cancelURL string, req CheckoutSessionRequest) *stripe.CheckoutSessionParams {
	registryID := req.RegistryID.String()
	itemID := ""
	if req.ItemID != nil {
		itemID = req.ItemID.String()
	}
	metadata := map[string]string{
		MetadataContributionID: req.ContributionID.String(),
		MetadataRegistryID:     registryID,
		MetadataItemID:         itemID,
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Registry contribution"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ContributionID.String()),
		SuccessURL:        stripe.String(strings.ReplaceAll(successURL, registryPlaceholder, registryID)),
		CancelURL:         stripe.String(strings.ReplaceAll(cancelURL, registryPlaceholder, registryID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return params
}
