package session

import (
	"context"
	"sync"
	"time"

	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/datacollection"
	"github.com/lumachat/engage/internal/hostbridge"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/internal/persistence"
	"github.com/lumachat/engage/internal/ui"
	"github.com/lumachat/engage/pkg/logger"
	"github.com/lumachat/engage/pkg/types"
)

// defaultOpTimeout bounds blocking channel operations started by effects.
const defaultOpTimeout = 20 * time.Second

// Deps are the collaborators the session runtime drives.
type Deps struct {
	Factory   channel.Factory
	Collector datacollection.Collector
	Store     messages.Store
	Projector ui.Projector
	Bridge    hostbridge.Bridge
	// Persist may be nil when the host configures no persistence.
	Persist *persistence.Store
	// Scheduler may be nil; defaults to the real clock.
	Scheduler actor.Scheduler
}

// Runtime interprets session effects against the contact channel and the
// external collaborators.
//
// The runtime never mutates session state directly; every observation goes
// back through the actor mailbox via emit.
type Runtime struct {
	sc   types.SessionContext
	deps Deps

	timers    *actor.TimerSet
	opTimeout time.Duration

	mu sync.Mutex
	ch channel.Channel
}

// NewRuntime returns a runtime for the given session context.
func NewRuntime(sc types.SessionContext, deps Deps) *Runtime {
	if deps.Collector == nil {
		deps.Collector = datacollection.AutoCollector{}
	}
	if deps.Bridge == nil {
		deps.Bridge = hostbridge.LogBridge{}
	}
	return &Runtime{
		sc:        sc,
		deps:      deps,
		timers:    actor.NewTimerSet(deps.Scheduler),
		opTimeout: defaultOpTimeout,
	}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effInstallChannel:
			go r.installChannel(ctx, emit)
		case effLeaveChannel:
			r.leaveChannel()
		case effSendText:
			r.sendText(e.Text)
		case effSendPayload:
			r.sendPayload(e.Payload)
		case effSendIsWriting:
			r.sendIsWriting()
		case effAttach:
			go r.attach(ctx, e, emit)
		case effPostQueueNotice:
			notice := messages.System(messages.NoticeQueueConnecting)
			notice.ID = e.ID
			r.deps.Store.Append(notice)
		case effAppendMessage:
			r.deps.Store.Append(e.Message)
		case effRemoveMessage:
			r.deps.Store.Remove(e.ID)
		case effMarkReplyPicked:
			r.deps.Store.MarkReplyPicked(e.ID)
		case effRecoverResume:
			r.recoverResume(emit)
		case effFetchMedia:
			go r.fetchMedia(ctx, emit)
		case effFetchCapabilities:
			go r.fetchCapabilities(ctx)
		case effSubmitOffer:
			go r.submitOffer(ctx, e, emit)
		case effMergeMedia:
			go r.mergeMedia(ctx, e, emit)
		case effRespondOffer:
			e.Respond(e.Err, nil)
		case effEngineMute:
			go r.engineMute(e.Muted, emit)
		case effStartTimer:
			r.startTimer(e, emit)
		case effCancelTimer:
			r.timers.Cancel(e.Name)
		case effCancelAllTimers:
			r.timers.CancelAll()
		case effPersistSnapshot:
			r.persistSnapshot()
		case effDeleteSnapshot:
			r.deleteSnapshot()

		case effUISetAgent:
			r.deps.Projector.SetAgent(e.Agent)
		case effUISetMediaState:
			r.deps.Projector.SetMediaState(e.Media)
		case effUISetIsWriting:
			r.deps.Projector.SetIsWriting(e.Writing)
		case effUISetClosedByAgent:
			r.deps.Projector.SetClosedByAgent()
		case effUISetClosedByVisitor:
			r.deps.Projector.SetClosedByVisitor()
		case effUISetUploading:
			r.deps.Projector.SetUploading(e.Uploading)
		case effUISetMuted:
			r.deps.Projector.SetMuted(e.Muted)
		case effUISetMuteInProgress:
			r.deps.Projector.SetMuteInProgress()
		case effUISetInTransit:
			r.deps.Projector.SetInTransit(e.InTransit)
		case effUISetIsOffering:
			r.deps.Projector.SetIsOffering(e.Kind)
		case effUISetIncomingMedia:
			r.deps.Projector.SetIncomingMedia(e.Kind)
		case effUISetOfferRejected:
			r.deps.Projector.SetOfferRejected()
		case effUISetVoiceAccepted:
			r.deps.Projector.SetVoiceAccepted()
		case effUINewMessage:
			r.deps.Projector.NewMessageReceived()

		case effBridgeCreated:
			payload := e.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			if ch, ok := r.channel(); ok {
				payload["contactId"] = ch.ID()
			}
			r.deps.Bridge.InteractionCreated(payload)
		case effBridgeAnswered:
			r.deps.Bridge.InteractionAnswered(e.Agent)
		case effBridgeFailed:
			r.deps.Bridge.InteractionFailed(e.Message)
		case effBridgeEvent:
			r.deps.Bridge.InteractionEvent(e.Type, e.Payload)

		default:
			logger.Debugf("session runtime: unknown effect %T", eff)
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	r.timers.CancelAll()
}

func (r *Runtime) channel() (channel.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch, r.ch != nil
}

func (r *Runtime) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// installChannel resumes a persisted contact when a snapshot exists for the
// session's persistence id, otherwise runs the data-collection handshake and
// creates a fresh contact.
func (r *Runtime) installChannel(ctx context.Context, emit func(actor.Input)) {
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	if r.sc.PersistenceID != "" && r.deps.Persist != nil {
		snap, ok, err := r.deps.Persist.Load(r.sc.PersistenceID)
		if err != nil {
			logger.Warnf("session: loading snapshot %q: %v", r.sc.PersistenceID, err)
		}
		if ok {
			ch, err := r.deps.Factory.Resume(opCtx, snap)
			if err != nil {
				emit(evChannelFailed{Err: err})
				return
			}
			r.install(ch, emit)
			emit(evChannelReady{Resumed: true, Media: snap.InitialOffer})
			return
		}
	}

	collected, err := r.deps.Collector.Collect(opCtx, r.sc)
	if err != nil {
		emit(evChannelFailed{Err: err})
		return
	}

	opts := channel.BuildContactOptions(r.sc, collected)
	ch, err := r.deps.Factory.Create(opCtx, opts)
	if err != nil {
		emit(evChannelFailed{Err: err})
		return
	}
	r.install(ch, emit)
	emit(evChannelReady{Resumed: false, Media: opts.InitialOffer})
}

func (r *Runtime) install(ch channel.Channel, emit func(actor.Input)) {
	r.mu.Lock()
	r.ch = ch
	r.mu.Unlock()
	bindChannel(ch, emit)
}

func (r *Runtime) leaveChannel() {
	ch, ok := r.channel()
	if !ok {
		return
	}
	if err := ch.Leave(); err != nil {
		logger.Warnf("session: leaving contact: %v", err)
	}
}

func (r *Runtime) sendText(text string) {
	ch, ok := r.channel()
	if !ok {
		return
	}
	if err := ch.SendText(text); err != nil {
		logger.Warnf("session: sending text: %v", err)
	}
}

func (r *Runtime) sendPayload(payload map[string]any) {
	ch, ok := r.channel()
	if !ok {
		return
	}
	if err := ch.Send(payload); err != nil {
		logger.Warnf("session: sending payload: %v", err)
	}
}

func (r *Runtime) sendIsWriting() {
	ch, ok := r.channel()
	if !ok {
		return
	}
	if err := ch.SendIsWriting(); err != nil {
		logger.Tracef("session: sending iswriting: %v", err)
	}
}

func (r *Runtime) attach(ctx context.Context, eff effAttach, emit func(actor.Input)) {
	ch, ok := r.channel()
	if !ok {
		emit(evAttachDone{Err: channel.ErrNotConnected})
		return
	}
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	err := ch.Attach(opCtx, eff.Upload)
	if err != nil {
		logger.Warnf("session: attaching %q: %v", eff.Upload.Name, err)
	}
	emit(evAttachDone{Err: err})
}

func (r *Runtime) recoverResume(emit func(actor.Input)) {
	ch, ok := r.channel()
	if !ok {
		return
	}
	ev := evResumeRecovered{Transcript: ch.Transcript()}
	if agent, found := ch.AgentInfo(); found {
		ev.Agent = &agent
	}
	emit(ev)
}

func (r *Runtime) fetchMedia(ctx context.Context, emit func(actor.Input)) {
	ch, ok := r.channel()
	if !ok {
		return
	}
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	offer, err := ch.GetMediaOffer(opCtx)
	if err != nil {
		logger.Warnf("session: fetching media offer: %v", err)
	}
	emit(evMediaFetched{Media: offer, Err: err})
}

func (r *Runtime) fetchCapabilities(ctx context.Context) {
	ch, ok := r.channel()
	if !ok {
		return
	}
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	if caps, err := ch.LocalCapabilities(opCtx); err != nil {
		logger.Debugf("session: local capabilities: %v", err)
	} else {
		logger.Debugf("session: local capabilities: %d entries", len(caps))
	}
	if caps, err := ch.RemoteCapabilities(opCtx); err != nil {
		logger.Debugf("session: remote capabilities: %v", err)
	} else {
		logger.Debugf("session: remote capabilities: %d entries", len(caps))
	}
}

// submitOffer fetches the current offer, applies the pure transform named by
// the effect and submits the result.
func (r *Runtime) submitOffer(ctx context.Context, eff effSubmitOffer, emit func(actor.Input)) {
	ch, ok := r.channel()
	if !ok {
		emit(evOfferResolved{Gen: eff.Gen, Err: channel.ErrNotConnected})
		return
	}
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	current, err := ch.GetMediaOffer(opCtx)
	if err != nil {
		emit(evOfferResolved{Gen: eff.Gen, Err: err})
		return
	}

	var next media.Offer
	switch eff.Transform {
	case TransformUpgrade:
		next = media.Upgrade(current, eff.Kind)
	case TransformHangUp:
		next = media.HangUp(current)
	case TransformToggleVideo:
		next = media.ToggleVideo(current, eff.Show)
	default:
		next = current.Clone()
	}

	err = ch.OfferMedia(opCtx, next)
	if err != nil {
		logger.Warnf("session: submitting media offer: %v", err)
	}
	emit(evOfferResolved{Gen: eff.Gen, Err: err})
}

// mergeMedia merges the diff and resolves the inbound offer's responder with
// the outcome. The reducer clears the pending slot before this effect is
// issued, so the responder fires exactly once.
func (r *Runtime) mergeMedia(ctx context.Context, eff effMergeMedia, emit func(actor.Input)) {
	ch, ok := r.channel()
	if !ok {
		if eff.Respond != nil {
			eff.Respond(channel.ErrNotConnected, nil)
		}
		emit(evMergeResolved{Gen: eff.Gen, Accepted: eff.Accepted, Err: channel.ErrNotConnected})
		return
	}
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	merged, err := ch.MergeMedia(opCtx, eff.Diff)
	if eff.Respond != nil {
		eff.Respond(err, merged)
	}
	emit(evMergeResolved{Gen: eff.Gen, Merged: merged, Accepted: eff.Accepted, Err: err})
}

func (r *Runtime) engineMute(muted bool, emit func(actor.Input)) {
	ch, ok := r.channel()
	if !ok {
		emit(evMuteDone{Muted: muted, Err: channel.ErrNotConnected})
		return
	}
	engine, err := ch.MediaEngine(media.EngineWebRTC)
	if err != nil {
		emit(evMuteDone{Muted: muted, Err: err})
		return
	}
	if muted {
		err = engine.MuteLocalAudio()
	} else {
		err = engine.UnmuteLocalAudio()
	}
	if err != nil {
		logger.Warnf("session: toggling mute: %v", err)
	}
	emit(evMuteDone{Muted: muted, Err: err})
}

func (r *Runtime) startTimer(eff effStartTimer, emit func(actor.Input)) {
	name := eff.Name
	r.timers.Start(name, eff.After, func() {
		emit(evTimerFired{Name: name})
	})
}

func (r *Runtime) persistSnapshot() {
	if r.deps.Persist == nil || r.sc.PersistenceID == "" {
		return
	}
	ch, ok := r.channel()
	if !ok {
		return
	}
	if err := r.deps.Persist.Save(r.sc.PersistenceID, ch.Snapshot()); err != nil {
		logger.Warnf("session: persisting snapshot: %v", err)
	}
}

func (r *Runtime) deleteSnapshot() {
	if r.deps.Persist == nil || r.sc.PersistenceID == "" {
		return
	}
	if err := r.deps.Persist.Delete(r.sc.PersistenceID); err != nil {
		logger.Warnf("session: deleting snapshot: %v", err)
	}
}
