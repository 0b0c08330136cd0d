package session

import "errors"

var (
	// ErrNotReady is returned for commands issued before a contact channel is
	// installed.
	ErrNotReady = errors.New("session: contact not ready")
	// ErrSessionClosed is returned for commands issued after the contact
	// closed.
	ErrSessionClosed = errors.New("session: contact closed")
	// ErrOfferInFlight is returned when a media submission is requested while
	// another one is still unresolved. Submissions are exclusive.
	ErrOfferInFlight = errors.New("session: media offer already in flight")
	// ErrNoPendingOffer is returned when accept/reject is called with no
	// incoming offer awaiting confirmation.
	ErrNoPendingOffer = errors.New("session: no pending incoming offer")
	// ErrOfferPending is the answer given to a second inbound offer while one
	// is already awaiting confirmation.
	ErrOfferPending = errors.New("session: another offer is pending confirmation")
)
