package wager

import (
	"errors"
	"fmt"
)

// FailureReason classifies why a flip attempt could not produce a decoded
// outcome. Reasons map one-to-one onto user-facing guidance and metrics
// labels.
type FailureReason string

const (
	// ReasonWalletUnavailable: no connected session when the flip was
	// requested. No chain interaction occurred.
	ReasonWalletUnavailable FailureReason = "wallet_unavailable"

	// ReasonUserInputInvalid: missing side selection or a wager amount that
	// is unparsable or outside the allowed range. No chain interaction
	// occurred.
	ReasonUserInputInvalid FailureReason = "user_input_invalid"

	// ReasonSignerUnavailable: the session exists but exposes no signer.
	// Detected before any network call.
	ReasonSignerUnavailable FailureReason = "signer_unavailable"

	// ReasonAttemptInFlight: a flip was requested while a prior attempt was
	// still running. The running attempt is untouched; no chain interaction
	// occurred for the rejected request.
	ReasonAttemptInFlight FailureReason = "attempt_in_flight"

	// ReasonTransactionRejected: the node rejected the transaction, the
	// user's signer refused it, or the mined transaction reverted.
	ReasonTransactionRejected FailureReason = "transaction_rejected_or_reverted"

	// ReasonOutcomeUndecodable: the transaction confirmed but no settlement
	// event for the player could be decoded from its receipt. Funds moved;
	// the outcome is knowable only from history.
	ReasonOutcomeUndecodable FailureReason = "outcome_undecodable"
)

// FlowError is a classified flip-flow failure. Message is safe to surface
// to the player verbatim.
type FlowError struct {
	Reason  FailureReason
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func newFlowError(reason FailureReason, err error, format string, args ...any) *FlowError {
	return &FlowError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// AsFlowError returns err as a *FlowError if it wraps one, nil otherwise.
func AsFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}
