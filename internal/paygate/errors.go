package paygate

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"lnprox-router/internal/lnbits"
)

const (
	ReasonUnexpectedResponse    = "unexpected response shape"
	ReasonNoContentAfterPayment = "no content after payment"
	ReasonMalformedChallenge    = "malformed payment challenge"
	ReasonMalformedBody         = "malformed response body"

	maxPayloadInMessage = 512
)

// ConfigError reports missing or invalid construction-time settings.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// PaymentError reports a settlement that did not go through.
type PaymentError struct {
	ChargeID string
	// AmountSats is nil when the challenge did not state an amount.
	AmountSats *int64
	// StatusCode is the wallet's HTTP status, zero on transport failure.
	StatusCode int
	Err        error
}

func (e *PaymentError) Error() string {
	amount := "?"
	if e.AmountSats != nil {
		amount = fmt.Sprintf("%d", *e.AmountSats)
	}
	if e.Err == nil {
		return fmt.Sprintf("payment failed for %s sats", amount)
	}
	return fmt.Sprintf("payment failed for %s sats: %v", amount, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func newPaymentError(chargeID string, amount *int64, err error) *PaymentError {
	pe := &PaymentError{ChargeID: chargeID, AmountSats: amount, Err: err}
	var statusErr *lnbits.StatusError
	if errors.As(err, &statusErr) {
		pe.StatusCode = statusErr.StatusCode
	}
	return pe
}

// ProtocolError reports a completion response the orchestrator could not
// interpret. Payload is the body exactly as received.
type ProtocolError struct {
	Reason     string
	StatusCode int
	Payload    []byte
}

func (e *ProtocolError) Error() string {
	payload := e.Payload
	suffix := ""
	if len(payload) > maxPayloadInMessage {
		cut := maxPayloadInMessage
		for cut > 0 && !utf8.RuneStart(payload[cut]) {
			cut--
		}
		payload = payload[:cut]
		suffix = "..."
	}
	return fmt.Sprintf("%s (status %d): %s%s", e.Reason, e.StatusCode, payload, suffix)
}
