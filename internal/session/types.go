package session

import (
	"time"

	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/pkg/types"
)

const (
	// writingIndicatorTimerName is the single-slot timer clearing the agent
	// writing indicator. Restarted on every signal, never stacked.
	writingIndicatorTimerName = "writing-indicator"
	writingIndicatorTimeout   = 30 * time.Second
)

// Phase is the session lifecycle phase.
type Phase string

const (
	// PhaseNew means no contact channel exists yet.
	PhaseNew Phase = "New"
	// PhaseStarting means channel creation or resumption is in progress.
	PhaseStarting Phase = "Starting"
	// PhaseQueued means the contact exists and waits for an agent.
	PhaseQueued Phase = "Queued"
	// PhaseActive means an agent has answered.
	PhaseActive Phase = "Active"
	// PhaseClosed means the contact has terminated.
	PhaseClosed Phase = "Closed"
)

// PendingOffer is the single slot holding an inbound media offer that awaits
// explicit visitor confirmation. Set on classification, cleared by exactly
// one accept or reject.
type PendingOffer struct {
	Kind    media.Kind
	Diff    media.Offer
	Respond channel.OfferResponder
}

// State is the loop-owned state of the session actor.
type State struct {
	Phase   Phase
	Resumed bool
	// TranscriptReplayed guards resume recovery so a reconnect cannot
	// replay the transcript twice.
	TranscriptReplayed bool

	// Agent is the current remote party, replaced (never merged) on each
	// join.
	Agent *types.Agent

	// Media is the last settled media state reported by the channel.
	Media media.Offer

	// OfferInFlight guards media submissions: while true, any command that
	// would start a second submission is refused.
	OfferInFlight bool
	// OfferGen increments per submission; resolution events carry the
	// generation so stale results are ignored.
	OfferGen int64

	// Pending is the single incoming-offer slot.
	Pending *PendingOffer

	// AgentWriting mirrors the projected writing indicator so the reducer
	// can decide when a clear is needed.
	AgentWriting bool

	// QueueNoticeID is the id of the "connecting" system notice, removed
	// when an agent answers.
	QueueNoticeID string

	// PendingStartReply is completed when channel installation finishes or
	// fails.
	PendingStartReply chan error

	Muted bool

	// Context mirrors the host-supplied flags the reducer needs.
	Vars         types.Variables
	HasSurvey    bool
	CanRemoveApp bool
}

// NewState returns the initial state for a session context.
func NewState(sc types.SessionContext) State {
	return State{
		Phase:        PhaseNew,
		Vars:         sc.Variables,
		HasSurvey:    sc.HasSurvey,
		CanRemoveApp: sc.CanRemoveApp,
	}
}

// Inputs

// Command is a marker interface for commands consumed by the session reducer.
type Command interface {
	actor.Input
	isSessionCommand()
}

// Event is a marker interface for events consumed by the session reducer.
type Event interface {
	actor.Input
	isSessionEvent()
}

type cmdStart struct {
	actor.InputBase
	Reply chan error
}

func (cmdStart) isSessionCommand() {}

type cmdSendText struct {
	actor.InputBase
	Text  string
	Reply chan error
}

func (cmdSendText) isSessionCommand() {}

type cmdSendAttachment struct {
	actor.InputBase
	Upload types.Upload
	Reply  chan error
}

func (cmdSendAttachment) isSessionCommand() {}

type cmdSendPostBack struct {
	actor.InputBase
	PostBack types.PostBack
	Reply    chan error
}

func (cmdSendPostBack) isSessionCommand() {}

type cmdQuickReply struct {
	actor.InputBase
	MessageID string
	Reply     chan error
	PostBack  types.PostBack
}

func (cmdQuickReply) isSessionCommand() {}

type cmdVisitorWriting struct {
	actor.InputBase
	Reply chan error
}

func (cmdVisitorWriting) isSessionCommand() {}

type cmdHangUp struct {
	actor.InputBase
	Reply chan error
}

func (cmdHangUp) isSessionCommand() {}

type cmdMuteToggle struct {
	actor.InputBase
	Muted bool
	Reply chan error
}

func (cmdMuteToggle) isSessionCommand() {}

type cmdAskUpgrade struct {
	actor.InputBase
	Kind  media.Kind
	Reply chan error
}

func (cmdAskUpgrade) isSessionCommand() {}

type cmdToggleVideo struct {
	actor.InputBase
	Show  bool
	Reply chan error
}

func (cmdToggleVideo) isSessionCommand() {}

type cmdAcceptOffer struct {
	actor.InputBase
	Reply chan error
}

func (cmdAcceptOffer) isSessionCommand() {}

type cmdRejectOffer struct {
	actor.InputBase
	Reply chan error
}

func (cmdRejectOffer) isSessionCommand() {}

type cmdCloseContact struct {
	actor.InputBase
	Reply chan error
}

func (cmdCloseContact) isSessionCommand() {}

// Events emitted by the runtime back into the reducer.

type evChannelReady struct {
	actor.InputBase
	Resumed bool
	Media   media.Offer
}

func (evChannelReady) isSessionEvent() {}

type evChannelFailed struct {
	actor.InputBase
	Err error
}

func (evChannelFailed) isSessionEvent() {}

type evAttachment struct {
	actor.InputBase
	Event channel.AttachmentEvent
}

func (evAttachment) isSessionEvent() {}

type evAgentJoined struct {
	actor.InputBase
	Agent types.Agent
}

func (evAgentJoined) isSessionEvent() {}

type evLocalJoined struct {
	actor.InputBase
	Reason string
}

func (evLocalJoined) isSessionEvent() {}

type evResumeRecovered struct {
	actor.InputBase
	Agent      *types.Agent
	Transcript []channel.TranscriptEntry
}

func (evResumeRecovered) isSessionEvent() {}

type evRawMessage struct {
	actor.InputBase
	Event channel.RawMessageEvent
}

func (evRawMessage) isSessionEvent() {}

type evIsWriting struct {
	actor.InputBase
	Event channel.IsWritingEvent
}

func (evIsWriting) isSessionEvent() {}

type evLocalText struct {
	actor.InputBase
	Text string
}

func (evLocalText) isSessionEvent() {}

type evLeft struct {
	actor.InputBase
	RemoteCount int
	Reason      string
}

func (evLeft) isSessionEvent() {}

type evMediaChange struct {
	actor.InputBase
	Media media.Offer
}

func (evMediaChange) isSessionEvent() {}

type evMediaOffer struct {
	actor.InputBase
	Offer   media.Offer
	Respond channel.OfferResponder
}

func (evMediaOffer) isSessionEvent() {}

type evMediaFetched struct {
	actor.InputBase
	Media media.Offer
	Err   error
}

func (evMediaFetched) isSessionEvent() {}

type evOfferResolved struct {
	actor.InputBase
	Gen int64
	Err error
}

func (evOfferResolved) isSessionEvent() {}

type evMergeResolved struct {
	actor.InputBase
	Gen      int64
	Merged   media.Offer
	Accepted bool
	Err      error
}

func (evMergeResolved) isSessionEvent() {}

type evAttachDone struct {
	actor.InputBase
	Err error
}

func (evAttachDone) isSessionEvent() {}

type evMuteDone struct {
	actor.InputBase
	Muted bool
	Err   error
}

func (evMuteDone) isSessionEvent() {}

type evTimerFired struct {
	actor.InputBase
	Name string
}

func (evTimerFired) isSessionEvent() {}

// Effects

// Effect is a marker interface for effects emitted by the session reducer.
type Effect interface {
	actor.Effect
	isSessionEffect()
}

type effInstallChannel struct {
	actor.EffectBase
}

func (effInstallChannel) isSessionEffect() {}

type effLeaveChannel struct {
	actor.EffectBase
}

func (effLeaveChannel) isSessionEffect() {}

type effSendText struct {
	actor.EffectBase
	Text string
}

func (effSendText) isSessionEffect() {}

type effSendPayload struct {
	actor.EffectBase
	Payload map[string]any
}

func (effSendPayload) isSessionEffect() {}

type effSendIsWriting struct {
	actor.EffectBase
}

func (effSendIsWriting) isSessionEffect() {}

type effAttach struct {
	actor.EffectBase
	Upload types.Upload
}

func (effAttach) isSessionEffect() {}

// effPostQueueNotice appends the "connecting" notice under the id the reducer
// already recorded in state.
type effPostQueueNotice struct {
	actor.EffectBase
	ID string
}

func (effPostQueueNotice) isSessionEffect() {}

type effAppendMessage struct {
	actor.EffectBase
	Message messages.Message
}

func (effAppendMessage) isSessionEffect() {}

type effRemoveMessage struct {
	actor.EffectBase
	ID string
}

func (effRemoveMessage) isSessionEffect() {}

type effMarkReplyPicked struct {
	actor.EffectBase
	ID string
}

func (effMarkReplyPicked) isSessionEffect() {}

type effRecoverResume struct {
	actor.EffectBase
}

func (effRecoverResume) isSessionEffect() {}

type effFetchMedia struct {
	actor.EffectBase
}

func (effFetchMedia) isSessionEffect() {}

type effFetchCapabilities struct {
	actor.EffectBase
}

func (effFetchCapabilities) isSessionEffect() {}

// effSubmitOffer fetches the current offer, applies the named transform and
// submits the result. Resolution comes back as evOfferResolved with the same
// generation.
type effSubmitOffer struct {
	actor.EffectBase
	Gen       int64
	Transform OfferTransform
	Kind      media.Kind
	Show      bool
}

func (effSubmitOffer) isSessionEffect() {}

// OfferTransform names the pure policy applied before an offer submission.
type OfferTransform string

const (
	// TransformUpgrade upgrades the offer to the requested kind.
	TransformUpgrade OfferTransform = "upgrade"
	// TransformHangUp forces Voice/Video off.
	TransformHangUp OfferTransform = "hang-up"
	// TransformToggleVideo flips the Video transmit direction.
	TransformToggleVideo OfferTransform = "toggle-video"
)

type effMergeMedia struct {
	actor.EffectBase
	Gen  int64
	Diff media.Offer
	// Accepted marks a merge the visitor explicitly confirmed, as opposed to
	// an auto-merged change.
	Accepted bool
	Respond  channel.OfferResponder
}

func (effMergeMedia) isSessionEffect() {}

// effRespondOffer resolves an inbound offer responder without a merge.
type effRespondOffer struct {
	actor.EffectBase
	Respond channel.OfferResponder
	Err     error
}

func (effRespondOffer) isSessionEffect() {}

type effEngineMute struct {
	actor.EffectBase
	Muted bool
}

func (effEngineMute) isSessionEffect() {}

type effStartTimer struct {
	actor.EffectBase
	Name  string
	After time.Duration
}

func (effStartTimer) isSessionEffect() {}

type effCancelTimer struct {
	actor.EffectBase
	Name string
}

func (effCancelTimer) isSessionEffect() {}

type effCancelAllTimers struct {
	actor.EffectBase
}

func (effCancelAllTimers) isSessionEffect() {}

type effPersistSnapshot struct {
	actor.EffectBase
}

func (effPersistSnapshot) isSessionEffect() {}

type effDeleteSnapshot struct {
	actor.EffectBase
}

func (effDeleteSnapshot) isSessionEffect() {}

// UI projection effects.

type effUISetAgent struct {
	actor.EffectBase
	Agent types.Agent
}

func (effUISetAgent) isSessionEffect() {}

type effUISetMediaState struct {
	actor.EffectBase
	Media media.Offer
}

func (effUISetMediaState) isSessionEffect() {}

type effUISetIsWriting struct {
	actor.EffectBase
	Writing bool
}

func (effUISetIsWriting) isSessionEffect() {}

type effUISetClosedByAgent struct {
	actor.EffectBase
}

func (effUISetClosedByAgent) isSessionEffect() {}

type effUISetClosedByVisitor struct {
	actor.EffectBase
}

func (effUISetClosedByVisitor) isSessionEffect() {}

type effUISetUploading struct {
	actor.EffectBase
	Uploading bool
}

func (effUISetUploading) isSessionEffect() {}

type effUISetMuted struct {
	actor.EffectBase
	Muted bool
}

func (effUISetMuted) isSessionEffect() {}

type effUISetMuteInProgress struct {
	actor.EffectBase
}

func (effUISetMuteInProgress) isSessionEffect() {}

type effUISetInTransit struct {
	actor.EffectBase
	InTransit bool
}

func (effUISetInTransit) isSessionEffect() {}

type effUISetIsOffering struct {
	actor.EffectBase
	Kind media.Kind
}

func (effUISetIsOffering) isSessionEffect() {}

type effUISetIncomingMedia struct {
	actor.EffectBase
	Kind media.Kind
}

func (effUISetIncomingMedia) isSessionEffect() {}

type effUISetOfferRejected struct {
	actor.EffectBase
}

func (effUISetOfferRejected) isSessionEffect() {}

type effUISetVoiceAccepted struct {
	actor.EffectBase
}

func (effUISetVoiceAccepted) isSessionEffect() {}

type effUINewMessage struct {
	actor.EffectBase
}

func (effUINewMessage) isSessionEffect() {}

// Host bridge effects.

type effBridgeCreated struct {
	actor.EffectBase
	Payload map[string]any
}

func (effBridgeCreated) isSessionEffect() {}

type effBridgeAnswered struct {
	actor.EffectBase
	Agent types.Agent
}

func (effBridgeAnswered) isSessionEffect() {}

type effBridgeFailed struct {
	actor.EffectBase
	Message string
}

func (effBridgeFailed) isSessionEffect() {}

type effBridgeEvent struct {
	actor.EffectBase
	Type    string
	Payload map[string]any
}

func (effBridgeEvent) isSessionEffect() {}
