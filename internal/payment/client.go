// Package payment implements the hosted-checkout gateway integration.
// The gateway signs every message with HMAC-SHA512 over the sorted
// parameter set; we build outgoing requests and verify callbacks the
// same way.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrBadSignature is returned when a callback's signature does not
	// match the payload.
	ErrBadSignature = errors.New("payment callback signature mismatch")
	// ErrMissingField is returned when a callback omits a required field.
	ErrMissingField = errors.New("payment callback field missing")
)

// Config holds the gateway credentials and endpoints. All fields are
// injected explicitly; the client keeps no global state.
type Config struct {
	BaseURL    string        `usage:"Payment gateway checkout URL"`
	ReturnURL  string        `usage:"URL the gateway redirects the customer back to" flag:"payment-return-url"`
	MerchantID string        `usage:"Merchant identifier issued by the gateway" flag:"payment-merchant-id"`
	Secret     string        `usage:"HMAC secret issued by the gateway" flag:"payment-secret"`
	Expiry     time.Duration `default:"15m" usage:"How long a checkout URL stays valid" flag:"payment-expiry"`
}

// Client builds signed checkout URLs and verifies gateway callbacks.
type Client struct {
	cfg Config
	now func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}
	return &Client{cfg: cfg, now: time.Now}
}

// Request describes a payment to initiate. Ref is the correlation id the
// gateway echoes back in the callback; it must be unique per attempt.
type Request struct {
	Ref       string
	Amount    decimal.Decimal
	OrderInfo string
	ClientIP  string
}

// CheckoutURL builds the signed redirect URL the customer is sent to.
// The gateway contract takes amounts in minor units (amount * 100).
func (c *Client) CheckoutURL(_ context.Context, req Request) (string, error) {
	if req.Ref == "" {
		return "", errors.New("payment ref required")
	}
	now := c.now()

	params := url.Values{}
	params.Set("mch_id", c.cfg.MerchantID)
	params.Set("txn_ref", req.Ref)
	params.Set("amount", req.Amount.Mul(decimal.NewFromInt(100)).StringFixed(0))
	params.Set("order_info", req.OrderInfo)
	params.Set("client_ip", req.ClientIP)
	params.Set("return_url", c.cfg.ReturnURL)
	params.Set("create_time", now.UTC().Format("20060102150405"))
	params.Set("expire_time", now.Add(c.cfg.Expiry).UTC().Format("20060102150405"))

	params.Set("signature", c.sign(params))
	return c.cfg.BaseURL + "?" + params.Encode(), nil
}

// Callback is the verified outcome of a gateway payment attempt.
type Callback struct {
	Ref     string
	TxnID   string
	Success bool
}

// VerifyCallback checks the callback signature before any field is
// trusted and extracts the payment outcome. Response code "00" is the
// gateway's success value; anything else is a failed or abandoned
// payment.
func (c *Client) VerifyCallback(params url.Values) (Callback, error) {
	got := params.Get("signature")
	if got == "" {
		return Callback{}, errors.Wrap(ErrMissingField, "signature")
	}

	rest := url.Values{}
	for key, vals := range params {
		if key == "signature" {
			continue
		}
		rest[key] = vals
	}
	want := c.sign(rest)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return Callback{}, ErrBadSignature
	}

	ref := params.Get("txn_ref")
	if ref == "" {
		return Callback{}, errors.Wrap(ErrMissingField, "txn_ref")
	}
	return Callback{
		Ref:     ref,
		TxnID:   params.Get("txn_id"),
		Success: params.Get("resp_code") == "00",
	}, nil
}

// sign computes HMAC-SHA512 over the parameters joined key=value in key
// order, the gateway's canonical form.
func (c *Client) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(params.Get(key))
	}

	mac := hmac.New(sha512.New, []byte(c.cfg.Secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
