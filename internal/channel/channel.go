// Package channel defines the Contact Channel capability: the live handle to
// a support interaction through which messages and media flow.
//
// The session core only depends on the interfaces here. The production
// implementation is the Socket.IO transport in this package; tests use
// in-package fakes.
package channel

import (
	"context"
	"errors"

	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/internal/persistence"
	"github.com/lumachat/engage/pkg/types"
)

var (
	// ErrNotConnected is returned for operations on a disconnected channel.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrOfferDeclined is the responder outcome for a rejected media offer.
	ErrOfferDeclined = errors.New("channel: offer declined")
	// ErrNoEngine is returned when a media engine is not available.
	ErrNoEngine = errors.New("channel: media engine not available")
)

// OfferResponder resolves an inbound media offer. Exactly one call is
// expected per offer; the session core guarantees single resolution.
type OfferResponder func(err error, merged media.Offer)

// AttachmentEvent is delivered when either party shares a file.
type AttachmentEvent struct {
	URL      string
	Meta     messages.AttachmentMeta
	FromID   string
	FromNick string
	IsAgent  bool
}

// JoinedEvent is delivered when a party joins the contact. UserID is empty
// for local (visitor-side) joins; Reason is "resume" when a persisted
// contact reattached.
type JoinedEvent struct {
	UserID string
	Nick   string
	IsBot  bool
	Avatar string
	Reason string
}

// Local reports whether the join describes the visitor side.
func (e JoinedEvent) Local() bool { return e.UserID == "" }

// RawMessageEvent is delivered for every inbound message frame.
type RawMessageEvent struct {
	Type         string
	Body         string
	IsAgent      bool
	FromID       string
	FromNick     string
	QuickReplies []types.PostBack
	Template     map[string]any
}

// IsWritingEvent signals that a party is composing a message.
type IsWritingEvent struct {
	FromID   string
	FromNick string
	IsAgent  bool
}

// LocalTextEvent echoes a text message sent from this widget.
type LocalTextEvent struct {
	Text string
}

// LeftEvent is delivered when a party leaves. RemoteCount is the number of
// remote (agent-side) parties still attached.
type LeftEvent struct {
	RemoteCount int
	Reason      string
}

// MediaChangeEvent reports the settled media state after a negotiation.
type MediaChangeEvent struct {
	Media media.Offer
}

// MediaOfferEvent carries an inbound media proposal and its responder.
type MediaOfferEvent struct {
	Offer   media.Offer
	Respond OfferResponder
}

// Handlers is the event subscription surface of a channel. A nil handler
// drops that event kind. Subscribe is called exactly once per channel,
// before any event is delivered.
type Handlers struct {
	Attachment  func(AttachmentEvent)
	Joined      func(JoinedEvent)
	RawMessage  func(RawMessageEvent)
	IsWriting   func(IsWritingEvent)
	LocalText   func(LocalTextEvent)
	Left        func(LeftEvent)
	MediaChange func(MediaChangeEvent)
	MediaOffer  func(MediaOfferEvent)
}

// Engine is a live media transport engine (WebRTC) exposed by the channel.
type Engine interface {
	MuteLocalAudio() error
	UnmuteLocalAudio() error
}

// Capabilities is an opaque capability description of one side of the
// contact.
type Capabilities map[string]any

// TranscriptEntry is one persisted message replayed on resume.
type TranscriptEntry struct {
	Type     string // "text" or "attachment"
	Body     string
	IsAgent  bool
	FromID   string
	FromNick string
	URL      string
	Meta     *messages.AttachmentMeta
}

// Channel is the live interaction handle. Exactly one exists per session; it
// is owned exclusively by the session controller and destroyed on
// termination.
type Channel interface {
	// ID returns the server-side contact id.
	ID() string
	// Subscribe installs the event handlers. Must be called before events
	// are expected and at most once.
	Subscribe(h Handlers)

	Leave() error
	Send(payload map[string]any) error
	SendText(text string) error
	SendIsWriting() error
	Attach(ctx context.Context, upload types.Upload) error

	GetMediaOffer(ctx context.Context) (media.Offer, error)
	OfferMedia(ctx context.Context, offer media.Offer) error
	MergeMedia(ctx context.Context, diff media.Offer) (media.Offer, error)
	MediaEngine(name string) (Engine, error)

	LocalCapabilities(ctx context.Context) (Capabilities, error)
	RemoteCapabilities(ctx context.Context) (Capabilities, error)

	// AgentInfo returns the agent recorded on the contact, when known.
	// Used to rebuild agent identity on resume.
	AgentInfo() (types.Agent, bool)
	// Transcript returns the persisted transcript for resume replay.
	Transcript() []TranscriptEntry
	// StoreSurvey persists a completed post-contact survey.
	StoreSurvey(survey map[string]any) error

	// Snapshot returns the durable state needed to resume this contact.
	Snapshot() persistence.Snapshot
}

// Factory creates or resumes contact channels.
type Factory interface {
	Create(ctx context.Context, opts ContactOptions) (Channel, error)
	Resume(ctx context.Context, snap persistence.Snapshot) (Channel, error)
}
