package message

import (
	"fmt"

	"github.com/juju/errors"
)

// ErrorType is the unique kind of a domain error.
type ErrorType string

const (
	ErrTypeInternalServerError       ErrorType = "INTERNAL_SERVER_ERROR"
	ErrTypeInvalidRequest            ErrorType = "INVALID_REQUEST"
	ErrTypeInvalidDatatype           ErrorType = "INVALID_DATATYPE"
	ErrTypeUnknownFilterID           ErrorType = "UNKNOWN_FILTER_ID"
	ErrTypeUnknownFilterType         ErrorType = "UNKNOWN_FILTER_TYPE"
	ErrTypeUnknownSubConnID          ErrorType = "UNKNOWN_SUBCONNECTION_ID"
	ErrTypeUnknownParticipant        ErrorType = "UNKNOWN_PARTICIPANT"
	ErrTypeNotConnectedToExperiment  ErrorType = "NOT_CONNECTED_TO_EXPERIMENT"
	ErrTypeBannedParticipant         ErrorType = "BANNED_PARTICIPANT"
	ErrTypeDuplicateID               ErrorType = "DUPLICATE_ID"
)

// Error is a domain error that maps one-to-one onto an ERROR message.
// Raising it from a message handler results in an ERROR reply instead of
// a dropped session.
type Error struct {
	Code        int       `json:"code"`
	Type        ErrorType `json:"type"`
	Description string    `json:"description"`
}

var _ error = &Error{}

func NewDomainError(code int, errType ErrorType, description string) *Error {
	return &Error{
		Code:        code,
		Type:        errType,
		Description: description,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Code, e.Description)
}

// Message converts the error into its ERROR envelope.
func (e *Error) Message() Message {
	return NewError(e)
}

// AsDomainError unwraps err into a *Error when it is one, looking
// through juju annotations.
func AsDomainError(err error) (*Error, bool) {
	if domainErr, ok := err.(*Error); ok {
		return domainErr, true
	}

	if domainErr, ok := errors.Cause(err).(*Error); ok {
		return domainErr, true
	}

	return nil, false
}
