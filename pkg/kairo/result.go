package kairo

// Status is the terminal state of one dispatch.
type Status string

const (
	// StatusIgnored means no dispatcher accepts the interaction kind.
	StatusIgnored Status = "ignored"
	// StatusNotFound means no module matched the command name or custom id.
	StatusNotFound Status = "not_found"
	// StatusBlocked means a gate vetoed; Reason carries the tag.
	StatusBlocked Status = "blocked"
	// StatusExecuted means the module body ran and returned.
	StatusExecuted Status = "executed"
	// StatusFailed means a failure was delivered to an error listener.
	StatusFailed Status = "failed"
)

// Result reports how a dispatch ended.
type Result struct {
	Status Status `json:"status"`
	// ModuleID is the resolved module, empty when none matched.
	ModuleID string `json:"module_id,omitempty"`
	// Reason is the veto tag when Status is StatusBlocked.
	Reason string `json:"reason,omitempty"`
	// Value is what the module body returned.
	Value any `json:"value,omitempty"`
}

// Handled reports whether a module was reached and ran to completion.
func (r Result) Handled() bool {
	return r.Status == StatusExecuted
}
