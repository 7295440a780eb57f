// Package paygate turns a single prompt into a single completion, paying a
// Lightning invoice on the way when the completion endpoint asks for one.
//
// # Flow
//
// An invocation sends the request once without proof of payment. A response
// with content is returned as is. A response with a payment challenge has its
// invoice paid through the LNbits wallet, and after a short propagation delay
// the identical request body is sent again with the challenge's charge ID in
// the X-Payment-Hash header. The second response must carry content.
//
// An invocation makes at most two completion requests and at most one
// settlement request. A charge ID is only ever sent after its invoice was
// paid, and an invoice is never paid twice: a second challenge after payment
// fails the invocation instead.
//
// # Errors
//
//   - *ConfigError: returned by New, before any network traffic.
//   - *PaymentError: the wallet declined the invoice or could not be reached.
//   - *ProtocolError: a response could not be interpreted; it carries the raw
//     payload.
//
// Failures to reach the completion endpoint are returned wrapped, so
// errors.Is(err, context.DeadlineExceeded) identifies an exhausted payment
// timeout.
//
// # Timeouts
//
// Settings.PaymentTimeout bounds the whole invocation, both completion
// requests, the settlement and the propagation delay included. Zero disables
// the bound and leaves cancellation to the caller's context.
//
// An Orchestrator holds only read-only configuration and is safe for
// concurrent use.
package paygate
