package domain

import "errors"

var (
	// ErrNotConnected outbound intent refused while the channel is down
	ErrNotConnected = errors.New("chat channel not connected")
	// ErrEmptyMessage send with a blank body
	ErrEmptyMessage = errors.New("message body is empty")
	// ErrInvalidIdentity identity without user id
	ErrInvalidIdentity = errors.New("identity requires a user id")
	// ErrNoActiveConversation typing without an open conversation
	ErrNoActiveConversation = errors.New("no active conversation")
	// ErrNoIdentity intent issued before login
	ErrNoIdentity = errors.New("not logged in")
	// ErrUnknownEvent inbound event name outside the protocol
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedPayload inbound frame or payload that cannot be decoded
	ErrMalformedPayload = errors.New("malformed payload")
)
