package enums

// DeadLetterReason classifies why a job landed in the dead-letter queue.
type DeadLetterReason string

const (
	DeadLetterReasonAttemptsExhausted DeadLetterReason = "attempts_exhausted"
	DeadLetterReasonTerminalRejection DeadLetterReason = "terminal_rejection"
	DeadLetterReasonMalformedPayload  DeadLetterReason = "malformed_payload"
)

// IsValid reports whether the value is a known DeadLetterReason.
func (r DeadLetterReason) IsValid() bool {
	switch r {
	case DeadLetterReasonAttemptsExhausted, DeadLetterReasonTerminalRejection, DeadLetterReasonMalformedPayload:
		return true
	default:
		return false
	}
}
