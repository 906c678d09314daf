package gateway

import "fmt"

type ErrorCode string

const (
	ErrorValidation  ErrorCode = "VALIDATION"
	ErrorPersistence ErrorCode = "PERSISTENCE"
)

// Error is the router's failure type. Action names the operation that
// failed, Message is the short human-readable text sent back to the caller
// in the scoped error event.
type Error struct {
	Code    ErrorCode
	Action  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway: %s %s: %s", e.Code, e.Action, e.Message)
	}
	return fmt.Sprintf("gateway: %s %s: %s: %v", e.Code, e.Action, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationErr(action, message string, err error) *Error {
	return &Error{Code: ErrorValidation, Action: action, Message: message, Err: err}
}

func persistenceErr(action, message string, err error) *Error {
	return &Error{Code: ErrorPersistence, Action: action, Message: message, Err: err}
}
