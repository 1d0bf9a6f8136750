package usecases

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/practice-sem-2/quartier-chat-service/internal/auth"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")

	ErrPermissionDenied     = errors.New("user is not authorized to this action")
	ErrUserIsNotARoomMember = fmt.Errorf("%w: user is not a room member", ErrPermissionDenied)
	ErrNotMessageAuthor     = fmt.Errorf("%w: only the author can edit a message", ErrPermissionDenied)
	ErrInsufficientRole     = fmt.Errorf("%w: insufficient role in the room", ErrPermissionDenied)
	ErrOutsideQuartier      = fmt.Errorf("%w: target is outside of the user's quartier", ErrPermissionDenied)

	ErrBusinessLogicViolation = errors.New("business logic violation")
	ErrSelfDirectRoom         = fmt.Errorf("%w: can't open a direct conversation with yourself", ErrBusinessLogicViolation)
	ErrCrossRoomReply         = fmt.Errorf("%w: replied message must be in the same room", ErrBusinessLogicViolation)
	ErrDirectRoomMembership   = fmt.Errorf("%w: direct room membership can't be changed", ErrBusinessLogicViolation)
	ErrInvalidPresenceStatus  = fmt.Errorf("%w: unknown presence status", ErrBusinessLogicViolation)
	ErrSystemMessage          = fmt.Errorf("%w: system messages can't be sent by users", ErrBusinessLogicViolation)
	ErrPageOutOfRange         = fmt.Errorf("%w: page is out of range", ErrBusinessLogicViolation)
)

// Kind is the client visible class of an error.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindInvalidArgument Kind = "invalid_argument"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

func Classify(err error) Kind {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, ErrAuthenticationRequired), errors.Is(err, auth.ErrInvalidToken):
		return KindUnauthenticated
	case errors.Is(err, ErrPermissionDenied):
		return KindForbidden
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusinessLogicViolation),
		errors.Is(err, storage.ErrEmptyMembers),
		errors.As(err, &validationErrs):
		return KindInvalidArgument
	case errors.Is(err, storage.ErrConflict):
		return KindConflict
	}
	return KindInternal
}

// PublicMessage hides storage and transport details of internal errors.
func PublicMessage(err error) string {
	if Classify(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
