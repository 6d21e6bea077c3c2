package app

import "fmt"

// DomainError is the error type the FlowDesk service layer returns for
// expected failures: validation problems, permission denials, missing
// documents or deals. mapError translates it straight into the HTTP
// response; anything else becomes a 500.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
