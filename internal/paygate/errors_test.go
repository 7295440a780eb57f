package paygate

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestProtocolErrorTruncatesOnRuneBoundary(t *testing.T) {
	// One ASCII byte shifts every three-byte rune across the cut.
	payload := []byte("x" + strings.Repeat("€", maxPayloadInMessage))
	err := &ProtocolError{Reason: ReasonUnexpectedResponse, StatusCode: 200, Payload: payload}

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "..."))
	assert.Less(t, len(msg), len(payload))
	assert.Equal(t, payload, err.Payload)
}

func TestProtocolErrorShortPayloadUntouched(t *testing.T) {
	err := &ProtocolError{Reason: ReasonNoContentAfterPayment, StatusCode: 402, Payload: []byte(`{"content":[]}`)}
	assert.Equal(t, `no content after payment (status 402): {"content":[]}`, err.Error())
}

func TestPaymentErrorAmountFormatting(t *testing.T) {
	amount := int64(21)
	known := newPaymentError("c1", &amount, errors.New("declined"))
	unknown := newPaymentError("c2", nil, errors.New("declined"))

	assert.Contains(t, known.Error(), "payment failed for 21 sats")
	assert.Contains(t, unknown.Error(), "payment failed for ? sats")
}
