package payments

import (
	"context"
	"fmt"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/trip-sync/internal/fare"
	"github.com/example/trip-sync/internal/models"
)

// StripeClient is a thin wrapper around stripe-go for PaymentIntent
// hold/capture/cancel flows.
type StripeClient struct {
	Currency string
}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient(currency string) *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "usd"
	}
	return &StripeClient{Currency: currency}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.Currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}

// CommissionInput carries the driver performance signals the settler
// needs to price the platform take.
type CommissionInput struct {
	DriverRating  float64
	TripsToday    int
	IsFleetDriver bool
	CancelRate    float64
}

// StripeSettler performs the two post-completion settlement calls
// against Stripe: capture the fare, then charge the platform commission.
type StripeSettler struct {
	client *StripeClient

	// Signals returns the current performance signals for a driver.
	Signals func(driverID string) CommissionInput
}

func NewStripeSettler(client *StripeClient, signals func(driverID string) CommissionInput) *StripeSettler {
	return &StripeSettler{client: client, Signals: signals}
}

func (s *StripeSettler) CapturePayment(ctx context.Context, t *models.Trip) error {
	if t.PaymentMethod != "card" {
		return nil // cash and wallet settle outside stripe
	}
	id, err := s.client.Hold(ctx, t.Price, t.RequesterID)
	if err != nil {
		return fmt.Errorf("hold fare: %w", err)
	}
	if err := s.client.Capture(ctx, id); err != nil {
		return fmt.Errorf("capture fare: %w", err)
	}
	return nil
}

func (s *StripeSettler) DeductCommission(ctx context.Context, t *models.Trip) error {
	in := CommissionInput{DriverRating: 5.0}
	if s.Signals != nil {
		in = s.Signals(t.FulfillerID)
	}
	amount := fare.Commission(t.Price, in.DriverRating, in.TripsToday, in.IsFleetDriver, in.CancelRate)
	if amount <= 0 {
		return nil
	}
	id, err := s.client.Hold(ctx, amount, t.FulfillerID)
	if err != nil {
		return fmt.Errorf("hold commission: %w", err)
	}
	if err := s.client.Capture(ctx, id); err != nil {
		return fmt.Errorf("capture commission: %w", err)
	}
	return nil
}
