// Package billing sells the Pro subscription through Stripe Checkout and
// keeps profiles in sync with the subscription webhooks.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/logging"
	"github.com/omniplex-ai/omniplex/internal/metrics"
)

const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

// Service handles /api/stripe and its webhook.
type Service struct {
	api           *client.API
	priceID       string
	webhookSecret string
	profiles      storage.ProfileStore
	logger        *logging.Logger
}

// New creates the billing service. Without a secret key checkout answers
// "not configured"; without a webhook secret so does the webhook.
func New(cfg config.BillingConfig, profiles storage.ProfileStore, logger *logging.Logger) *Service {
	s := &Service{
		priceID:       cfg.StripePriceID,
		webhookSecret: cfg.StripeWebhookSecret,
		profiles:      profiles,
		logger:        logger,
	}
	if cfg.StripeSecretKey == "" {
		return s
	}

	backendCfg := &stripe.BackendConfig{
		LeveledLogger: logger.WithField("component", "stripe"),
	}
	if cfg.StripeAPIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimSuffix(cfg.StripeAPIURL, "/"))
	}
	s.api = &client.API{}
	s.api.Init(cfg.StripeSecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return s
}

func (s *Service) RegisterRoutes(router *mux.Router, requireAuth func(http.Handler) http.Handler) {
	router.Handle("/api/stripe", requireAuth(http.HandlerFunc(s.handleCheckout))).Methods(http.MethodPost)
	router.HandleFunc("/api/stripe/webhook", s.handleWebhook).Methods(http.MethodPost)
}

// Checkout creates a subscription checkout session for userID and returns
// its URL. origin is where Stripe sends the user back to.
func (s *Service) Checkout(ctx context.Context, userID, origin string) (string, error) {
	if s.api == nil || s.priceID == "" {
		return "", svcerrors.NotConfigured("Stripe is not configured.")
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(s.priceID),
			Quantity: stripe.Int64(1),
		}},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(origin + "/payment/success"),
		CancelURL:         stripe.String(origin + "/payment/cancel"),
		ClientReferenceID: stripe.String(userID),
	}
	params.Context = ctx

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", svcerrors.Internal("Internal Server Error", fmt.Errorf("create checkout session: %w", err))
	}
	return session.URL, nil
}

// HandleEvent verifies payload against the Stripe-Signature header and
// applies it to the stored profiles.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return svcerrors.NotConfigured("Stripe webhook is not configured.")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.LogSecurityEvent(ctx, "stripe_signature_invalid", map[string]interface{}{"error": err.Error()})
		return svcerrors.BadRequest("Invalid signature")
	}
	metrics.RecordBillingEvent(string(event.Type))

	log := s.logger.WithContext(ctx).WithField("event_id", event.ID).WithField("event_type", event.Type)
	switch string(event.Type) {
	case eventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return svcerrors.BadRequest("Invalid event payload")
		}
		if session.ClientReferenceID == "" {
			log.Warn("checkout session without client reference")
			return nil
		}
		customerID := ""
		if session.Customer != nil {
			customerID = session.Customer.ID
		}
		if err := s.profiles.SetPro(ctx, session.ClientReferenceID, true, customerID); err != nil {
			return fmt.Errorf("set pro: %w", err)
		}
		log.WithField("user_id", session.ClientReferenceID).Info("subscription activated")

	case eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return svcerrors.BadRequest("Invalid event payload")
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			return nil
		}
		profile, err := s.profiles.GetProfileByCustomer(ctx, sub.Customer.ID)
		if errors.Is(err, storage.ErrNotFound) {
			log.WithField("customer_id", sub.Customer.ID).Warn("subscription for unknown customer")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get profile by customer: %w", err)
		}
		if err := s.profiles.SetPro(ctx, profile.UserID, false, ""); err != nil {
			return fmt.Errorf("clear pro: %w", err)
		}
		log.WithField("user_id", profile.UserID).Info("subscription ended")

	default:
		log.Debug("ignoring stripe event")
	}
	return nil
}
