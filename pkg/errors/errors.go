package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies how the orchestrator reacts to a failure
type Kind string

const (
	// KindRecoverable faults are retried by the retry policy
	KindRecoverable Kind = "recoverable"
	// KindPermanent faults abort the current link only
	KindPermanent Kind = "permanent"
	// KindSkip marks a deliberate skip (exclusion, unresolvable name)
	KindSkip Kind = "skip"
)

// Fault is a classified failure raised while processing a single link
type Fault struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (f *Fault) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if f.Code != 0 {
		return fmt.Sprintf("%s fault (status %d): %s", f.Kind, f.Code, msg)
	}
	return fmt.Sprintf("%s fault: %s", f.Kind, msg)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Recoverable wraps err as a retryable fault
func Recoverable(err error) *Fault {
	return &Fault{Kind: KindRecoverable, Code: StatusCode(err), Err: err}
}

// Permanent builds a fault that must not be retried
func Permanent(code int, message string) *Fault {
	return &Fault{Kind: KindPermanent, Code: code, Message: message}
}

// Skip builds a fault describing a deliberate skip
func Skip(message string) *Fault {
	return &Fault{Kind: KindSkip, Message: message}
}

// HTTPStatus builds a fault from a non-success HTTP response status.
// Classification happens later, since it depends on the host.
func HTTPStatus(code int, url string) *Fault {
	return &Fault{
		Kind:    KindRecoverable,
		Code:    code,
		Message: fmt.Sprintf("%s returned %d %s", url, code, http.StatusText(code)),
	}
}

// KindOf reports the fault kind of err. Unclassified errors are recoverable.
func KindOf(err error) Kind {
	var f *Fault
	if stderrors.As(err, &f) {
		return f.Kind
	}
	return KindRecoverable
}

// IsRecoverable checks if err should be handed back to the retry policy
func IsRecoverable(err error) bool {
	return err != nil && KindOf(err) == KindRecoverable
}

// IsPermanent checks if err aborts its link
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == KindPermanent
}

// IsSkip checks if err is a deliberate skip
func IsSkip(err error) bool {
	return err != nil && KindOf(err) == KindSkip
}

// StatusCode extracts an HTTP-like status code from err, or 0
func StatusCode(err error) int {
	var f *Fault
	if stderrors.As(err, &f) {
		return f.Code
	}
	return 0
}

// IsClientStatus reports a 4xx status other than 429 Too Many Requests
func IsClientStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// Classify decides whether a failure observed while transferring from host
// is permanent or recoverable. A 4xx status (except 429) is permanent unless
// host contains one of the retryAlways substrings.
func Classify(err error, host string, retryAlways []string) *Fault {
	if err == nil {
		return nil
	}

	var f *Fault
	if stderrors.As(err, &f) && f.Kind != KindRecoverable {
		return f
	}

	code := StatusCode(err)
	if IsClientStatus(code) {
		for _, h := range retryAlways {
			if h != "" && strings.Contains(host, h) {
				return &Fault{Kind: KindRecoverable, Code: code, Err: err}
			}
		}
		return &Fault{Kind: KindPermanent, Code: code, Err: err}
	}

	if f != nil {
		return f
	}
	return Recoverable(err)
}
