package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const defaultBaseURL = "https://api.stripe.com"

// StripeClient talks to the Stripe payment intents API and verifies Stripe
// webhook signatures.
type StripeClient struct {
	httpc         *http.Client
	baseURL       string
	secretKey     string
	webhookSecret []byte
	tolerance     time.Duration
	now           func() time.Time
}

var _ Provider = (*StripeClient)(nil)

// NewStripeClient creates a StripeClient. tolerance bounds how old a webhook
// timestamp may be before it is rejected as a replay.
func NewStripeClient(secretKey, webhookSecret string, tolerance time.Duration) *StripeClient {
	return &StripeClient{
		httpc:         &http.Client{Timeout: 10 * time.Second},
		baseURL:       defaultBaseURL,
		secretKey:     secretKey,
		webhookSecret: []byte(webhookSecret),
		tolerance:     tolerance,
		now:           time.Now,
	}
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreateIntent registers a payment intent with Stripe. The order id travels
// in the intent metadata so the webhook can be matched back to the order.
func (c *StripeClient) CreateIntent(ctx context.Context, amount int64, orderID string) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", "usd")
	form.Set("metadata[order_id]", orderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call payment intents")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("payment intents: status %d: %s", resp.StatusCode, b)
	}

	var ir intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, errors.Wrap(err, "decode intent response")
	}

	return &Intent{
		ID:           ir.ID,
		ClientSecret: ir.ClientSecret,
		Amount:       amount,
		OrderID:      orderID,
	}, nil
}

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhook validates a Stripe-Signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" against the raw body. The signed payload
// is "<t>.<body>" keyed with the webhook secret.
func (c *StripeClient) VerifyWebhook(body []byte, sigHeader string) (*Event, error) {
	ts, sigs, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	age := c.now().Sub(time.Unix(ts, 0))
	if age > c.tolerance || age < -c.tolerance {
		return nil, ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, c.webhookSecret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(expected, got) == 1 {
			matched = true
		}
	}
	if !matched {
		return nil, ErrBadSignature
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.Wrap(err, "decode webhook payload")
	}

	return &Event{
		Type:     p.Type,
		IntentID: p.Data.Object.ID,
		OrderID:  p.Data.Object.Metadata["order_id"],
	}, nil
}

func parseSignatureHeader(header string) (ts int64, sigs []string, err error) {
	if header == "" {
		return 0, nil, ErrBadSignature
	}
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, ErrBadSignature
			}
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, ErrBadSignature
	}
	return ts, sigs, nil
}
