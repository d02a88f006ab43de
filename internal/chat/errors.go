package chat

import "errors"

var (
	// ErrUnauthenticated means no verified identity accompanied the call.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized means the caller is known but lacks the permission,
	// e.g. is not a member of the conversation.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	// ErrCapacity is returned when a group would exceed MaxGroupMembers.
	ErrCapacity        = errors.New("group capacity exceeded")
	ErrInvalidArgument = errors.New("invalid argument")
)

// softFail reports whether a query should degrade to an empty result
// instead of surfacing err.
func softFail(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrUnauthorized)
}
