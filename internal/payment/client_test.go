package payment

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	c := NewClient(Config{
		BaseURL:    "https://gateway.example.com/checkout",
		ReturnURL:  "https://shop.example.com/payment/return",
		MerchantID: "SHOP001",
		Secret:     "test-secret",
		Expiry:     15 * time.Minute,
	})
	c.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func TestCheckoutURL(t *testing.T) {
	c := testClient()

	raw, err := c.CheckoutURL(context.Background(), Request{
		Ref:       "pay-123",
		Amount:    decimal.NewFromInt(250_000),
		OrderInfo: "order ord-1",
		ClientIP:  "203.0.113.7",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "SHOP001", q.Get("mch_id"))
	assert.Equal(t, "pay-123", q.Get("txn_ref"))
	assert.Equal(t, "25000000", q.Get("amount"), "amount in minor units")
	assert.Equal(t, "20250601120000", q.Get("create_time"))
	assert.Equal(t, "20250601121500", q.Get("expire_time"))
	assert.NotEmpty(t, q.Get("signature"))

	// The emitted URL must verify with our own callback check.
	_, err = c.VerifyCallback(q)
	require.NoError(t, err)
}

func TestCheckoutURL_RequiresRef(t *testing.T) {
	c := testClient()
	_, err := c.CheckoutURL(context.Background(), Request{Amount: decimal.NewFromInt(100)})
	require.Error(t, err)
}

func signedCallback(c *Client, mutate func(url.Values)) url.Values {
	params := url.Values{}
	params.Set("txn_ref", "pay-123")
	params.Set("txn_id", "GW9001")
	params.Set("resp_code", "00")
	params.Set("amount", "25000000")
	if mutate != nil {
		mutate(params)
	}
	params.Set("signature", c.sign(params))
	return params
}

func TestVerifyCallback_Success(t *testing.T) {
	c := testClient()

	cb, err := c.VerifyCallback(signedCallback(c, nil))
	require.NoError(t, err)
	assert.Equal(t, "pay-123", cb.Ref)
	assert.Equal(t, "GW9001", cb.TxnID)
	assert.True(t, cb.Success)
}

func TestVerifyCallback_Failure(t *testing.T) {
	c := testClient()

	cb, err := c.VerifyCallback(signedCallback(c, func(p url.Values) {
		p.Set("resp_code", "24")
	}))
	require.NoError(t, err)
	assert.False(t, cb.Success)
}

func TestVerifyCallback_TamperedAmount(t *testing.T) {
	c := testClient()

	params := signedCallback(c, nil)
	params.Set("amount", "100")

	_, err := c.VerifyCallback(params)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyCallback_MissingSignature(t *testing.T) {
	c := testClient()

	params := signedCallback(c, nil)
	params.Del("signature")

	_, err := c.VerifyCallback(params)
	require.ErrorIs(t, err, ErrMissingField)
}

func TestVerifyCallback_WrongSecret(t *testing.T) {
	c := testClient()
	other := NewClient(Config{Secret: "other-secret"})

	params := signedCallback(other, nil)
	_, err := c.VerifyCallback(params)
	require.ErrorIs(t, err, ErrBadSignature)
}
