package tenant

import "errors"

// ErrNotAdmitted matches every *AdmissionError via errors.Is.
var ErrNotAdmitted = errors.New("tenant not admitted")

type Reason string

const (
	ReasonBanned    Reason = "banned"
	ReasonDisabled  Reason = "disabled"
	ReasonNoSource  Reason = "no-source"
	ReasonNoAccount Reason = "no-account"
)

// AdmissionError explains why a loop may not start.
type AdmissionError struct {
	Reason Reason
}

func (e *AdmissionError) Error() string { return "admission refused: " + string(e.Reason) }

func (e *AdmissionError) Is(target error) bool { return target == ErrNotAdmitted }

// Message is the user-facing explanation.
func (e *AdmissionError) Message() string {
	switch e.Reason {
	case ReasonBanned:
		return "❌ You are banned from using this bot."
	case ReasonDisabled:
		return "The AdBot is switched off. Use /on to enable it."
	case ReasonNoSource:
		return "Please set an ad source first (/source)."
	case ReasonNoAccount:
		return "Please add an account first (/addaccount)."
	default:
		return "Forwarding cannot start right now."
	}
}

// Admit is the admission gate: nil iff the tenant may run a forwarding loop.
func Admit(t Tenant) error {
	if t.Banned {
		return &AdmissionError{Reason: ReasonBanned}
	}
	if !t.Enabled {
		return &AdmissionError{Reason: ReasonDisabled}
	}
	if !t.SourceConfigured() {
		return &AdmissionError{Reason: ReasonNoSource}
	}
	if !t.HasAccounts() {
		return &AdmissionError{Reason: ReasonNoAccount}
	}
	return nil
}

// CanStart is the boolean form of Admit.
func CanStart(t Tenant) bool { return Admit(t) == nil }

// AdmitToggle evaluates the gate for a user switching forwarding on, which
// is what sets Enabled.
func AdmitToggle(t Tenant) error {
	t.Enabled = true
	return Admit(t)
}

// ReasonOf extracts the admission reason, if err is an admission refusal.
func ReasonOf(err error) (Reason, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}
