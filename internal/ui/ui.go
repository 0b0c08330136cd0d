// Package ui defines the state projector the session core drives and a
// thread-safe tracker implementation hosts can render from.
//
// The core never renders; it only projects named transitions. The tracker is
// also the owner of the close-sequence visibility flags (survey, close
// modal) consumed by the close-flow engine.
package ui

import (
	"sync"

	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/pkg/types"
)

// Projector consumes named state transitions from the session core.
// Implementations must be safe to call from the session runtime goroutines
// and must not block.
type Projector interface {
	SetAgent(agent types.Agent)
	SetMediaState(offer media.Offer)
	SetIsWriting(writing bool)
	SetClosedByAgent()
	SetClosedByVisitor()
	SetCloseModal(visible bool)
	SetUploadPanel(visible bool)
	SetUploading(uploading bool)
	SetMuted(muted bool)
	SetMuteInProgress()
	SetInTransit(inTransit bool)
	SetIsOffering(kind media.Kind)
	SetIncomingMedia(kind media.Kind)
	SetOfferRejected()
	SetVoiceAccepted()
	SetSurveyVisible(visible bool)
	SetMinimized(minimized bool)
	NewMessageReceived()
}

// State is a renderable snapshot of the projected UI state.
type State struct {
	Agent           *types.Agent
	Media           media.Offer
	IsWriting       bool
	ClosedByAgent   bool
	ClosedByVisitor bool
	CloseModal      bool
	UploadPanel     bool
	Uploading       bool
	Muted           bool
	MuteInProgress  bool
	InTransit       bool
	Offering        media.Kind
	IncomingMedia   media.Kind
	OfferRejected   bool
	VoiceAccepted   bool
	SurveyVisible   bool
	Minimized       bool
	UnreadCount     int
}

// Tracker is the default Projector: it folds transitions into a State
// snapshot under a mutex.
type Tracker struct {
	mu    sync.Mutex
	state State
	// onChange, when set, is invoked after every transition with a copy of
	// the new state. Used by hosts to trigger re-rendering.
	onChange func(State)
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker { return &Tracker{} }

// OnChange registers a render callback. Must be set before the session
// starts.
func (t *Tracker) OnChange(fn func(State)) { t.onChange = fn }

// Snapshot returns a copy of the current UI state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) update(fn func(*State)) {
	t.mu.Lock()
	fn(&t.state)
	snap := t.state
	cb := t.onChange
	t.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

// SetAgent implements Projector.
func (t *Tracker) SetAgent(agent types.Agent) {
	t.update(func(s *State) { s.Agent = &agent })
}

// SetMediaState implements Projector.
func (t *Tracker) SetMediaState(offer media.Offer) {
	t.update(func(s *State) {
		s.Media = offer.Clone()
		// A settled media state ends any offering/in-transit display.
		s.Offering = ""
		s.InTransit = false
	})
}

// SetIsWriting implements Projector.
func (t *Tracker) SetIsWriting(writing bool) {
	t.update(func(s *State) { s.IsWriting = writing })
}

// SetClosedByAgent implements Projector.
func (t *Tracker) SetClosedByAgent() {
	t.update(func(s *State) { s.ClosedByAgent = true })
}

// SetClosedByVisitor implements Projector.
func (t *Tracker) SetClosedByVisitor() {
	t.update(func(s *State) { s.ClosedByVisitor = true })
}

// SetCloseModal implements Projector.
func (t *Tracker) SetCloseModal(visible bool) {
	t.update(func(s *State) { s.CloseModal = visible })
}

// SetUploadPanel implements Projector.
func (t *Tracker) SetUploadPanel(visible bool) {
	t.update(func(s *State) { s.UploadPanel = visible })
}

// SetUploading implements Projector.
func (t *Tracker) SetUploading(uploading bool) {
	t.update(func(s *State) { s.Uploading = uploading })
}

// SetMuted implements Projector.
func (t *Tracker) SetMuted(muted bool) {
	t.update(func(s *State) {
		s.Muted = muted
		s.MuteInProgress = false
	})
}

// SetMuteInProgress implements Projector.
func (t *Tracker) SetMuteInProgress() {
	t.update(func(s *State) { s.MuteInProgress = true })
}

// SetInTransit implements Projector.
func (t *Tracker) SetInTransit(inTransit bool) {
	t.update(func(s *State) { s.InTransit = inTransit })
}

// SetIsOffering implements Projector.
func (t *Tracker) SetIsOffering(kind media.Kind) {
	t.update(func(s *State) {
		s.Offering = kind
		s.OfferRejected = false
	})
}

// SetIncomingMedia implements Projector.
func (t *Tracker) SetIncomingMedia(kind media.Kind) {
	t.update(func(s *State) { s.IncomingMedia = kind })
}

// SetOfferRejected implements Projector.
func (t *Tracker) SetOfferRejected() {
	t.update(func(s *State) {
		s.OfferRejected = true
		s.Offering = ""
		s.IncomingMedia = ""
	})
}

// SetVoiceAccepted implements Projector.
func (t *Tracker) SetVoiceAccepted() {
	t.update(func(s *State) {
		s.VoiceAccepted = true
		s.IncomingMedia = ""
	})
}

// SetSurveyVisible implements Projector.
func (t *Tracker) SetSurveyVisible(visible bool) {
	t.update(func(s *State) { s.SurveyVisible = visible })
}

// SetMinimized implements Projector.
func (t *Tracker) SetMinimized(minimized bool) {
	t.update(func(s *State) { s.Minimized = minimized })
}

// NewMessageReceived implements Projector.
func (t *Tracker) NewMessageReceived() {
	t.update(func(s *State) {
		if s.Minimized {
			s.UnreadCount++
		}
	})
}

var _ Projector = (*Tracker)(nil)
