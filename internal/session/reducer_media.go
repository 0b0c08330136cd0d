package session

import (
	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
)

// Media negotiation transitions. One offer submission may be in flight at a
// time; the OfferGen guard discards stale resolutions after the guard has
// moved on.

// guardSubmission enforces submission exclusivity on top of guardReady.
func guardSubmission(state State, replyCh chan error) bool {
	if !guardReady(state, replyCh) {
		return false
	}
	if state.OfferInFlight {
		reply(replyCh, ErrOfferInFlight)
		return false
	}
	return true
}

func reduceHangUp(state State, cmd cmdHangUp) (State, []actor.Effect) {
	if !guardSubmission(state, cmd.Reply) {
		return state, nil
	}
	state.OfferGen++
	state.OfferInFlight = true
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effSubmitOffer{Gen: state.OfferGen, Transform: TransformHangUp},
	}
}

func reduceAskUpgrade(state State, cmd cmdAskUpgrade) (State, []actor.Effect) {
	if !guardSubmission(state, cmd.Reply) {
		return state, nil
	}
	state.OfferGen++
	state.OfferInFlight = true
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effUISetIsOffering{Kind: cmd.Kind},
		effSubmitOffer{Gen: state.OfferGen, Transform: TransformUpgrade, Kind: cmd.Kind},
	}
}

func reduceToggleVideo(state State, cmd cmdToggleVideo) (State, []actor.Effect) {
	if !guardSubmission(state, cmd.Reply) {
		return state, nil
	}
	state.OfferGen++
	state.OfferInFlight = true
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effUISetInTransit{InTransit: true},
		effSubmitOffer{Gen: state.OfferGen, Transform: TransformToggleVideo, Show: cmd.Show},
	}
}

func reduceOfferResolved(state State, ev evOfferResolved) (State, []actor.Effect) {
	if ev.Gen != state.OfferGen {
		return state, nil
	}
	state.OfferInFlight = false

	// In-transit clears on success and failure both; leaving it set on a
	// rejected submission would wedge the video controls.
	effects := []actor.Effect{effUISetInTransit{InTransit: false}}
	if ev.Err != nil {
		effects = append(effects, effUISetOfferRejected{})
	}
	return state, effects
}

func reduceMediaOffer(state State, ev evMediaOffer) (State, []actor.Effect) {
	if ev.Respond == nil {
		return state, nil
	}
	// Single pending slot: a second offer is answered immediately and the
	// original slot is preserved.
	if state.Pending != nil {
		return state, []actor.Effect{
			effRespondOffer{Respond: ev.Respond, Err: ErrOfferPending},
		}
	}

	c := media.Classify(state.Media, ev.Offer)
	if !c.NeedsConfirmation {
		// Merges mutate the channel, so they honor the same exclusivity
		// guard as outgoing submissions. The remote side may retry.
		if state.OfferInFlight {
			return state, []actor.Effect{
				effRespondOffer{Respond: ev.Respond, Err: ErrOfferInFlight},
			}
		}
		state.OfferGen++
		state.OfferInFlight = true
		return state, []actor.Effect{
			effMergeMedia{
				Gen:     state.OfferGen,
				Diff:    media.AutoMerge(ev.Offer),
				Respond: ev.Respond,
			},
		}
	}

	state.Pending = &PendingOffer{
		Kind:    c.Proposed,
		Diff:    c.Diff,
		Respond: ev.Respond,
	}
	return state, []actor.Effect{effUISetIncomingMedia{Kind: c.Proposed}}
}

func reduceAcceptOffer(state State, cmd cmdAcceptOffer) (State, []actor.Effect) {
	if state.Pending == nil {
		reply(cmd.Reply, ErrNoPendingOffer)
		return state, nil
	}
	// The slot survives; the visitor retries once the submission resolves.
	if state.OfferInFlight {
		reply(cmd.Reply, ErrOfferInFlight)
		return state, nil
	}
	pending := state.Pending
	state.Pending = nil
	state.OfferGen++
	state.OfferInFlight = true
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effMergeMedia{
			Gen:      state.OfferGen,
			Diff:     pending.Diff,
			Accepted: true,
			Respond:  pending.Respond,
		},
	}
}

func reduceRejectOffer(state State, cmd cmdRejectOffer) (State, []actor.Effect) {
	if state.Pending == nil {
		reply(cmd.Reply, ErrNoPendingOffer)
		return state, nil
	}
	pending := state.Pending
	state.Pending = nil
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effRespondOffer{Respond: pending.Respond, Err: channel.ErrOfferDeclined},
		effAppendMessage{Message: messages.System(messages.NoticeCallRejected)},
		effUISetOfferRejected{},
	}
}

func reduceMergeResolved(state State, ev evMergeResolved) (State, []actor.Effect) {
	if ev.Gen != state.OfferGen {
		return state, nil
	}
	state.OfferInFlight = false

	if ev.Err != nil {
		return state, []actor.Effect{effUISetOfferRejected{}}
	}
	state.Media = ev.Merged.Clone()
	effects := []actor.Effect{effUISetMediaState{Media: state.Media}}
	// Only a merge the visitor confirmed counts as an accepted call;
	// auto-merged changes and downgrades settle silently.
	if ev.Accepted {
		effects = append([]actor.Effect{effUISetVoiceAccepted{}}, effects...)
	}
	return state, effects
}

func reduceMediaChange(state State, ev evMediaChange) (State, []actor.Effect) {
	state.Media = ev.Media.Clone()
	return state, []actor.Effect{effUISetMediaState{Media: state.Media}}
}

func reduceMediaFetched(state State, ev evMediaFetched) (State, []actor.Effect) {
	if ev.Err != nil || ev.Media == nil {
		return state, nil
	}
	state.Media = ev.Media.Clone()
	return state, []actor.Effect{effUISetMediaState{Media: state.Media}}
}
