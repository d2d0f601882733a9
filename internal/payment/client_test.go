package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var p SessionParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "payment", p.Mode)
		assert.Len(t, p.LineItems, 2)

		_ = json.NewEncoder(w).Encode(Session{ID: "cs_1", URL: "https://pay.example.com/cs_1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", 2*time.Second)
	sess, err := c.CreateSession(context.Background(), SessionParams{
		LineItems: []LineItem{
			{Name: "Evening Dress", UnitCents: 5000, Quantity: 1, Currency: "aed"},
			{Name: "Shipping", UnitCents: 500, Quantity: 1, Currency: "aed"},
		},
		SuccessURL: "https://shop.example.com/ok",
		CancelURL:  "https://shop.example.com/no",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, "https://pay.example.com/cs_1", sess.URL)
}

func TestProviderErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"card declined"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", 2*time.Second)
	_, err := c.CreateSession(context.Background(), SessionParams{})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusPaymentRequired, pe.StatusCode)
	assert.Equal(t, "card declined", pe.Message)
}

func TestRetrieveAndExpireSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/checkout/sessions/cs_1":
			_ = json.NewEncoder(w).Encode(Session{ID: "cs_1", PaymentStatus: "paid", PaymentIntent: "pi_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/checkout/sessions/cs_1/expire":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", 2*time.Second)

	sess, err := c.RetrieveSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "paid", sess.PaymentStatus)
	assert.Equal(t, "pi_1", sess.PaymentIntent)

	require.NoError(t, c.ExpireSession(context.Background(), "cs_1"))
}
