// Package session is the visitor-side session controller: it owns the
// contact channel, routes its event stream, runs the media negotiation
// protocol and decides termination through the close-flow engine.
package session

import (
	"sync/atomic"

	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/closeflow"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/internal/ui"
	"github.com/lumachat/engage/pkg/logger"
	"github.com/lumachat/engage/pkg/types"
)

// flagSource exposes the UI-owned close-sequence flags. ui.Tracker satisfies
// it; projectors without a snapshot report both flags as false.
type flagSource interface {
	Snapshot() ui.State
}

// Controller is the public surface of a session. All operations funnel into
// the session actor; close decisions run through the close-flow engine
// before any channel mutation.
type Controller struct {
	sc      types.SessionContext
	act     *actor.Actor[State]
	runtime *Runtime
	deps    Deps
	removed atomic.Bool
}

// NewController assembles a session controller for the given context. The
// session does not touch the network until Initialize is called.
func NewController(sc types.SessionContext, deps Deps) *Controller {
	runtime := NewRuntime(sc, deps)
	c := &Controller{
		sc:      sc,
		runtime: runtime,
		deps:    runtime.deps,
	}
	c.act = actor.New(NewState(sc), Reduce, runtime, actor.WithHooks(actor.Hooks[State]{
		OnInput: func(in actor.Input) {
			logger.Tracef("session: input %T", in)
		},
		OnTransition: func(prev, next State, in actor.Input) {
			if prev.Phase != next.Phase {
				logger.Debugf("session: phase %s -> %s", prev.Phase, next.Phase)
			}
		},
		OnPanic: func(recovered any) {
			logger.Errorf("session: actor panic: %v", recovered)
		},
	}))
	return c
}

// exec enqueues a command and waits for its reply.
func (c *Controller) exec(build func(reply chan error) actor.Input) error {
	reply := make(chan error, 1)
	if !c.act.Enqueue(build(reply)) {
		return actor.ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-c.act.Done():
		return actor.ErrStopped
	}
}

// Initialize starts the session actor and installs the contact channel,
// resuming from persisted state when the context carries a persistence id.
// Blocks until the channel is installed or installation fails; on failure the
// session stays uninitialized and the failure is also reported through the
// host bridge.
func (c *Controller) Initialize() error {
	c.act.Start()
	return c.exec(func(reply chan error) actor.Input {
		return cmdStart{Reply: reply}
	})
}

// SendText sends a chat message to the contact.
func (c *Controller) SendText(text string) error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdSendText{Text: text, Reply: reply}
	})
}

// SendAttachment uploads a file to the contact. The uploading UI flag is set
// around the transfer and cleared regardless of outcome.
func (c *Controller) SendAttachment(upload types.Upload) error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdSendAttachment{Upload: upload, Reply: reply}
	})
}

// SendPostBack routes a template or quick-reply action: postbacks go to the
// channel, anything else is forwarded to the host page.
func (c *Controller) SendPostBack(pb types.PostBack) error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdSendPostBack{PostBack: pb, Reply: reply}
	})
}

// ProcessQuickReply marks the quick-replies message as used and sends the
// picked option's title as a chat message.
func (c *Controller) ProcessQuickReply(messageID string, pb types.PostBack) error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdQuickReply{MessageID: messageID, PostBack: pb, Reply: reply}
	})
}

// VisitorIsWriting signals to the remote side that the visitor is composing.
func (c *Controller) VisitorIsWriting() error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdVisitorWriting{Reply: reply}
	})
}

// HangUp ends all live voice/video without ending the chat.
func (c *Controller) HangUp() error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdHangUp{Reply: reply}
	})
}

// MuteToggle mutes or unmutes local audio through the media engine.
func (c *Controller) MuteToggle(muted bool) error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdMuteToggle{Muted: muted, Reply: reply}
	})
}

// AskForVoiceUpgrade requests upgrading the contact to voice.
func (c *Controller) AskForVoiceUpgrade() error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdAskUpgrade{Kind: media.Voice, Reply: reply}
	})
}

// AskForVideoUpgrade requests upgrading the contact to video (which implies
// voice).
func (c *Controller) AskForVideoUpgrade() error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdAskUpgrade{Kind: media.Video, Reply: reply}
	})
}

// ToggleVideo shows or hides the local video stream.
func (c *Controller) ToggleVideo(show bool) error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdToggleVideo{Show: show, Reply: reply}
	})
}

// AcceptOffer accepts the pending incoming media offer.
func (c *Controller) AcceptOffer() error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdAcceptOffer{Reply: reply}
	})
}

// RejectOffer rejects the pending incoming media offer.
func (c *Controller) RejectOffer() error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdRejectOffer{Reply: reply}
	})
}

// CloseContact leaves the contact and marks the session closed. Idempotent.
func (c *Controller) CloseContact() error {
	return c.exec(func(reply chan error) actor.Input {
		return cmdCloseContact{Reply: reply}
	})
}

// RequestClose runs one step of the close flow: it snapshots the close flags,
// decides the termination action and executes it. Hosts call it again after
// a modal confirmation or a completed survey to take the next step.
func (c *Controller) RequestClose() (closeflow.Action, error) {
	action := closeflow.Decide(c.closeFlags())
	return action, c.runCloseAction(action)
}

// DismissCloseModal cancels a close confirmation: the modal is hidden and no
// termination happens.
func (c *Controller) DismissCloseModal() {
	c.deps.Projector.SetCloseModal(false)
}

// SubmitSurvey stores a completed post-contact survey on the channel.
func (c *Controller) SubmitSurvey(survey map[string]any) error {
	ch, ok := c.runtime.channel()
	if !ok {
		return ErrNotReady
	}
	return ch.StoreSurvey(survey)
}

// SetMinimized projects the widget's minimize state; unread counting follows
// it.
func (c *Controller) SetMinimized(minimized bool) {
	c.deps.Projector.SetMinimized(minimized)
}

// State returns a snapshot of the session actor state.
func (c *Controller) State() State {
	return c.act.State()
}

// Messages returns the transcript in append order.
func (c *Controller) Messages() []messages.Message {
	return c.deps.Store.List()
}

// Channel returns the installed contact channel, when one exists.
func (c *Controller) Channel() (channel.Channel, bool) {
	return c.runtime.channel()
}

// Shutdown stops the session actor and its runtime. It does not leave the
// contact; use the close flow for orderly termination.
func (c *Controller) Shutdown() {
	c.act.Stop()
}

func (c *Controller) closeFlags() closeflow.Flags {
	st := c.act.State()
	flags := closeflow.Flags{
		ContactStarted:      st.Phase == PhaseQueued || st.Phase == PhaseActive || st.Phase == PhaseClosed,
		IsInQueue:           st.Phase == PhaseQueued,
		IsClosed:            st.Phase == PhaseClosed,
		HasSurvey:           st.HasSurvey,
		CanRemoveApp:        st.CanRemoveApp,
		AskCloseConfirm:     st.Vars.AskCloseConfirm,
		StayInAppAfterClose: st.Vars.StayInAppAfterClose,
	}
	if src, ok := c.deps.Projector.(flagSource); ok {
		uiState := src.Snapshot()
		flags.SurveyVisible = uiState.SurveyVisible
		flags.CloseModalVisible = uiState.CloseModal
	}
	return flags
}

func (c *Controller) runCloseAction(action closeflow.Action) error {
	switch action {
	case closeflow.RemoveApp:
		c.removeApp()
		return nil
	case closeflow.ShowSurvey:
		c.deps.Projector.SetSurveyVisible(true)
		return nil
	case closeflow.CloseAndSurvey:
		if err := c.CloseContact(); err != nil {
			return err
		}
		c.deps.Projector.SetSurveyVisible(true)
		return nil
	case closeflow.ShowCloseModal:
		c.deps.Projector.SetCloseModal(true)
		return nil
	case closeflow.CloseAndStay:
		// The confirmation modal is dismissed and immediately re-shown so the
		// widget presents it in its closed form after the contact ends.
		c.deps.Projector.SetCloseModal(false)
		c.deps.Projector.SetCloseModal(true)
		return c.CloseContact()
	case closeflow.CloseAndRemove:
		if err := c.CloseContact(); err != nil {
			return err
		}
		c.removeApp()
		return nil
	default:
		return nil
	}
}

// removeApp tears the session down and asks the host to unmount the widget.
// Runs at most once.
func (c *Controller) removeApp() {
	if !c.removed.CompareAndSwap(false, true) {
		return
	}
	c.Shutdown()
	c.deps.Bridge.RemoveApp()
}
