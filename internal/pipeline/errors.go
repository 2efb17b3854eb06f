package pipeline

// Kind is the error taxonomy of spec.md §7: a classification, not a Go
// error type hierarchy, so a single StageError carries both the kind and
// the concrete HTTP status it maps to.
type Kind string

const (
	KindInput    Kind = "input"
	KindAuth     Kind = "auth"
	KindPolicy   Kind = "policy"
	KindUpstream Kind = "upstream"
	KindInternal Kind = "internal"
)

// StageError short-circuits the pipeline with a structured response.
type StageError struct {
	Kind        Kind
	Status      int
	Message     string
	Suggestions []string
}

func (e *StageError) Error() string { return e.Message }

func inputError(status int, message string, suggestions []string) *StageError {
	return &StageError{Kind: KindInput, Status: status, Message: message, Suggestions: suggestions}
}

func authError(message string) *StageError {
	return &StageError{Kind: KindAuth, Status: 401, Message: message}
}

func policyError(status int, message string) *StageError {
	return &StageError{Kind: KindPolicy, Status: status, Message: message}
}

func upstreamError(status int, message string) *StageError {
	return &StageError{Kind: KindUpstream, Status: status, Message: message}
}

func internalError(message string) *StageError {
	return &StageError{Kind: KindInternal, Status: 500, Message: message}
}
