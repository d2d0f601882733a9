package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook event types delivered by the provider. Anything outside this set is
// acknowledged and ignored.
const (
	EventSessionCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventIntentSucceeded       = "payment_intent.succeeded"
	EventIntentFailed          = "payment_intent.payment_failed"
)

var ErrSignatureInvalid = errors.New("payment: webhook signature invalid")

// SignatureTolerance bounds how old a signed timestamp may be before the
// event is rejected as a possible replay.
const SignatureTolerance = 5 * time.Minute

type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (e Event) Session() (Session, error) {
	var s Session
	err := json.Unmarshal(e.Data.Object, &s)
	return s, err
}

func (e Event) PaymentIntent() (PaymentIntent, error) {
	var pi PaymentIntent
	err := json.Unmarshal(e.Data.Object, &pi)
	return pi, err
}

// ConstructEvent authenticates a raw webhook delivery and decodes it. The
// signature header has the form "t=<unix>,v1=<hex>" where v1 is
// HMAC-SHA256(secret, "<t>.<body>") over the exact request bytes. Any
// re-serialization of the body upstream breaks verification, which is why the
// transport hands this function the unparsed payload.
func ConstructEvent(payload []byte, sigHeader, secret string) (Event, error) {
	return constructEventAt(payload, sigHeader, secret, time.Now())
}

func constructEventAt(payload []byte, sigHeader, secret string, now time.Time) (Event, error) {
	ts, sig, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Event{}, err
	}
	if d := now.Sub(time.Unix(ts, 0)); d > SignatureTolerance || d < -SignatureTolerance {
		return Event{}, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	expected := Sign(payload, ts, secret)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return Event{}, ErrSignatureInvalid
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("payment: decode event: %w", err)
	}
	return ev, nil
}

// Sign computes the v1 signature for a payload at timestamp ts. Exported so
// tests and local tooling can produce valid deliveries.
func Sign(payload []byte, ts int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the full header value for a signed payload.
func SignatureHeader(payload []byte, ts int64, secret string) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, Sign(payload, ts, secret))
}

func parseSignatureHeader(h string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(h, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
	}
	return ts, sig, nil
}
