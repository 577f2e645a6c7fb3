package session

import "errors"

var (
	// ErrIdentityConflict means the username lookup found no row and the
	// create also failed (uniqueness race). Surfaced to the caller, login
	// fails, no retry.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrEmptyUsername rejects a login with a blank (after trimming) name.
	ErrEmptyUsername = errors.New("empty username")

	// ErrUnknownToken means no live session is registered for the token.
	ErrUnknownToken = errors.New("unknown session token")

	// ErrSessionClosed is returned by operations on a logged-out session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotGroupMember rejects a group send from a non-member.
	ErrNotGroupMember = errors.New("not a group member")

	// ErrInvalidConversation rejects a conversation reference with an
	// unknown kind.
	ErrInvalidConversation = errors.New("invalid conversation reference")
)
