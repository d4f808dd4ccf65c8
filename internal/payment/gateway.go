package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vibe-planner/internal/entitlement"

	"github.com/google/uuid"
)

var (
	ErrNotSuccessful = errors.New("transaction was not successful")
	ErrUnderpaid     = errors.New("transaction amount is below the tier price")
	ErrWrongCurrency = errors.New("transaction currency does not match the tier")
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// ValidationError is a bad payment input. Message is shown to the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateEmail checks the address the receipt goes to.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Message: "Email is required to proceed with payment."}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Message: "Please enter a valid email address."}
	}
	return nil
}

// Checkout is a started payment the user completes on Paystack.
type Checkout struct {
	AuthorizationURL string
	Reference        string
}

// Gateway starts and verifies tier purchases. Verification always asks
// Paystack; nothing the client reports is trusted.
type Gateway struct {
	client      *PaystackClient
	signer      *StateSigner
	callbackURL string
}

func NewGateway(client *PaystackClient, signer *StateSigner, callbackURL string) *Gateway {
	return &Gateway{client: client, signer: signer, callbackURL: callbackURL}
}

// Initiate creates a Paystack transaction for tier on behalf of chatID.
func (g *Gateway) Initiate(ctx context.Context, chatID int64, tier entitlement.Tier, email string) (Checkout, error) {
	if err := ValidateEmail(email); err != nil {
		return Checkout{}, err
	}

	reference := "vibe-" + uuid.NewString()
	state, err := g.signer.Sign(State{ChatID: chatID, Tier: tier.ID, Reference: reference})
	if err != nil {
		return Checkout{}, fmt.Errorf("failed to sign payment state: %w", err)
	}
	callback, err := withQuery(g.callbackURL, "state", state)
	if err != nil {
		return Checkout{}, err
	}

	res, err := g.client.Initialize(ctx, InitializeRequest{
		Email:       strings.TrimSpace(email),
		Amount:      tier.MinorUnits(),
		Currency:    tier.Currency,
		Reference:   reference,
		CallbackURL: callback,
		Metadata: map[string]string{
			"chat_id": strconv.FormatInt(chatID, 10),
			"tier":    string(tier.ID),
		},
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("failed to initialize payment: %w", err)
	}

	ref := res.Reference
	if ref == "" {
		ref = reference
	}
	return Checkout{AuthorizationURL: res.AuthorizationURL, Reference: ref}, nil
}

// Verify confirms with Paystack that reference paid at least tier's price.
func (g *Gateway) Verify(ctx context.Context, reference string, tier entitlement.Tier) error {
	tx, err := g.client.Verify(ctx, reference)
	if err != nil {
		return err
	}
	if tx.Status != "success" {
		return fmt.Errorf("%w: status %q", ErrNotSuccessful, tx.Status)
	}
	if tx.Currency != "" && !strings.EqualFold(tx.Currency, tier.Currency) {
		return fmt.Errorf("%w: %s", ErrWrongCurrency, tx.Currency)
	}
	if tx.Amount < tier.MinorUnits() {
		return fmt.Errorf("%w: paid %d, need %d", ErrUnderpaid, tx.Amount, tier.MinorUnits())
	}
	return nil
}

// ParseState decodes the state token carried by the callback URL.
func (g *Gateway) ParseState(token string) (State, error) {
	return g.signer.Parse(token)
}

func withQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid callback url: %w", err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
