package session

import (
	"github.com/google/uuid"

	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/messages"
)

// Reduce is the session reducer. Lifecycle, messaging and close transitions
// live here; media negotiation is in reducer_media.go.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdStart:
		return reduceStart(state, in)
	case cmdSendText:
		return reduceSendText(state, in)
	case cmdSendAttachment:
		return reduceSendAttachment(state, in)
	case cmdSendPostBack:
		return reduceSendPostBack(state, in)
	case cmdQuickReply:
		return reduceQuickReply(state, in)
	case cmdVisitorWriting:
		if !guardReady(state, in.Reply) {
			return state, nil
		}
		reply(in.Reply, nil)
		return state, []actor.Effect{effSendIsWriting{}}
	case cmdMuteToggle:
		return reduceMuteToggle(state, in)
	case cmdCloseContact:
		return reduceCloseContact(state, in)
	case cmdHangUp:
		return reduceHangUp(state, in)
	case cmdAskUpgrade:
		return reduceAskUpgrade(state, in)
	case cmdToggleVideo:
		return reduceToggleVideo(state, in)
	case cmdAcceptOffer:
		return reduceAcceptOffer(state, in)
	case cmdRejectOffer:
		return reduceRejectOffer(state, in)

	case evChannelReady:
		return reduceChannelReady(state, in)
	case evChannelFailed:
		return reduceChannelFailed(state, in)
	case evAttachment:
		return reduceAttachment(state, in)
	case evAgentJoined:
		return reduceAgentJoined(state, in)
	case evLocalJoined:
		return reduceLocalJoined(state, in)
	case evResumeRecovered:
		return reduceResumeRecovered(state, in)
	case evRawMessage:
		return reduceRawMessage(state, in)
	case evIsWriting:
		return reduceIsWriting(state, in)
	case evLocalText:
		return reduceLocalText(state, in)
	case evLeft:
		return reduceLeft(state, in)
	case evMediaChange:
		return reduceMediaChange(state, in)
	case evMediaOffer:
		return reduceMediaOffer(state, in)
	case evMediaFetched:
		return reduceMediaFetched(state, in)
	case evOfferResolved:
		return reduceOfferResolved(state, in)
	case evMergeResolved:
		return reduceMergeResolved(state, in)
	case evAttachDone:
		return state, []actor.Effect{effUISetUploading{Uploading: false}}
	case evMuteDone:
		return reduceMuteDone(state, in)
	case evTimerFired:
		return reduceTimerFired(state, in)
	default:
		return state, nil
	}
}

// reply completes a command reply channel without blocking.
func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// ready reports whether a contact channel is installed and not closed.
func (s State) ready() bool {
	return s.Phase == PhaseQueued || s.Phase == PhaseActive
}

// guardReady replies with the appropriate error for commands that need a live
// contact. Returns false when the command must not proceed.
func guardReady(state State, replyCh chan error) bool {
	if state.ready() {
		return true
	}
	if state.Phase == PhaseClosed {
		reply(replyCh, ErrSessionClosed)
	} else {
		reply(replyCh, ErrNotReady)
	}
	return false
}

func reduceStart(state State, cmd cmdStart) (State, []actor.Effect) {
	if state.Phase != PhaseNew {
		reply(cmd.Reply, nil)
		return state, nil
	}
	state.Phase = PhaseStarting
	state.PendingStartReply = cmd.Reply
	return state, []actor.Effect{effInstallChannel{}}
}

func reduceChannelReady(state State, ev evChannelReady) (State, []actor.Effect) {
	state.Phase = PhaseQueued
	state.Resumed = ev.Resumed
	state.Media = ev.Media.Clone()
	if state.PendingStartReply != nil {
		reply(state.PendingStartReply, nil)
		state.PendingStartReply = nil
	}

	effects := []actor.Effect{
		effBridgeCreated{},
		effFetchCapabilities{},
		effPersistSnapshot{},
	}
	if ev.Resumed {
		state.TranscriptReplayed = true
		effects = append(effects, effRecoverResume{}, effFetchMedia{})
	} else {
		// The notice id is assigned here, not when the store acks, so an
		// agent joining right after channel install can always remove it.
		state.QueueNoticeID = uuid.NewString()
		effects = append(effects, effPostQueueNotice{ID: state.QueueNoticeID})
	}
	return state, effects
}

func reduceChannelFailed(state State, ev evChannelFailed) (State, []actor.Effect) {
	state.Phase = PhaseNew
	if state.PendingStartReply != nil {
		reply(state.PendingStartReply, ev.Err)
		state.PendingStartReply = nil
	}
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	return state, []actor.Effect{effBridgeFailed{Message: msg}}
}

func reduceSendText(state State, cmd cmdSendText) (State, []actor.Effect) {
	if !guardReady(state, cmd.Reply) {
		return state, nil
	}
	reply(cmd.Reply, nil)
	return state, []actor.Effect{effSendText{Text: cmd.Text}}
}

func reduceSendAttachment(state State, cmd cmdSendAttachment) (State, []actor.Effect) {
	if !guardReady(state, cmd.Reply) {
		return state, nil
	}
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effUISetUploading{Uploading: true},
		effAttach{Upload: cmd.Upload},
	}
}

func reduceSendPostBack(state State, cmd cmdSendPostBack) (State, []actor.Effect) {
	if !guardReady(state, cmd.Reply) {
		return state, nil
	}
	reply(cmd.Reply, nil)

	pb := cmd.PostBack
	if pb.Type == "postback" {
		return state, []actor.Effect{effSendPayload{Payload: map[string]any{
			"type":  "postback",
			"title": pb.Title,
			"extra": pb.Extra,
		}}}
	}
	// Non-postback actions (web_url and friends) go to the host page, not
	// the channel.
	return state, []actor.Effect{effBridgeEvent{
		Type: pb.Type,
		Payload: map[string]any{
			"title": pb.Title,
			"url":   pb.URL,
			"extra": pb.Extra,
		},
	}}
}

func reduceQuickReply(state State, cmd cmdQuickReply) (State, []actor.Effect) {
	if !guardReady(state, cmd.Reply) {
		return state, nil
	}
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effMarkReplyPicked{ID: cmd.MessageID},
		effSendText{Text: cmd.PostBack.Title},
	}
}

func reduceMuteToggle(state State, cmd cmdMuteToggle) (State, []actor.Effect) {
	if !guardReady(state, cmd.Reply) {
		return state, nil
	}
	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effUISetMuteInProgress{},
		effEngineMute{Muted: cmd.Muted},
	}
}

func reduceMuteDone(state State, ev evMuteDone) (State, []actor.Effect) {
	if ev.Err == nil {
		state.Muted = ev.Muted
	}
	// SetMuted also clears the in-progress flag, so it runs on failure too.
	return state, []actor.Effect{effUISetMuted{Muted: state.Muted}}
}

func reduceAttachment(state State, ev evAttachment) (State, []actor.Effect) {
	meta := ev.Event.Meta
	meta.URL = meta.ResolvedURL()
	msg := messages.Message{
		Kind:     messages.KindChat,
		Body:     meta.Desc,
		IsAgent:  ev.Event.IsAgent,
		FromID:   ev.Event.FromID,
		FromNick: ev.Event.FromNick,
		Meta:     &meta,
	}
	return state, []actor.Effect{
		effAppendMessage{Message: msg},
		effUINewMessage{},
	}
}

func reduceAgentJoined(state State, ev evAgentJoined) (State, []actor.Effect) {
	agent := ev.Agent
	state.Agent = &agent
	state.Phase = PhaseActive

	var effects []actor.Effect
	if state.QueueNoticeID != "" {
		effects = append(effects, effRemoveMessage{ID: state.QueueNoticeID})
		state.QueueNoticeID = ""
	}
	if state.Vars.ShowWelcomeMessage {
		effects = append(effects, effAppendMessage{
			Message: messages.System(messages.NoticeWelcome, agent.Nick),
		})
	}
	effects = append(effects,
		effUISetAgent{Agent: agent},
		effBridgeAnswered{Agent: agent},
		effFetchMedia{},
		effPersistSnapshot{},
	)
	return state, effects
}

func reduceLocalJoined(state State, ev evLocalJoined) (State, []actor.Effect) {
	if ev.Reason != "resume" {
		return state, nil
	}
	effects := []actor.Effect{effFetchMedia{}}
	if !state.TranscriptReplayed {
		state.TranscriptReplayed = true
		effects = append(effects, effRecoverResume{})
	}
	return state, effects
}

func reduceResumeRecovered(state State, ev evResumeRecovered) (State, []actor.Effect) {
	var effects []actor.Effect
	if ev.Agent != nil {
		agent := *ev.Agent
		state.Agent = &agent
		state.Phase = PhaseActive
		effects = append(effects, effUISetAgent{Agent: agent})
	}
	for _, entry := range ev.Transcript {
		msg := messages.Message{
			Kind:     messages.KindChat,
			Body:     entry.Body,
			IsAgent:  entry.IsAgent,
			FromID:   entry.FromID,
			FromNick: entry.FromNick,
		}
		if entry.Meta != nil {
			meta := *entry.Meta
			meta.URL = meta.ResolvedURL()
			if meta.URL == "" {
				meta.URL = entry.URL
			}
			msg.Meta = &meta
		}
		effects = append(effects, effAppendMessage{Message: msg})
	}
	return state, effects
}

func reduceRawMessage(state State, ev evRawMessage) (State, []actor.Effect) {
	e := ev.Event
	// Only text frames reach the transcript; control and action frames are
	// not chat content.
	if e.Type != "" && e.Type != "text" {
		return state, nil
	}
	msg := messages.Message{
		Kind:     messages.KindChat,
		Body:     e.Body,
		IsAgent:  e.IsAgent,
		FromID:   e.FromID,
		FromNick: e.FromNick,
	}
	switch {
	case len(e.QuickReplies) > 0:
		msg.Kind = messages.KindQuickReplies
		msg.QuickReplies = e.QuickReplies
	case e.Template != nil:
		msg.Kind = messages.KindTemplate
		msg.Template = e.Template
	}

	effects := []actor.Effect{
		effAppendMessage{Message: msg},
		effUINewMessage{},
	}
	if e.IsAgent && state.AgentWriting {
		state.AgentWriting = false
		effects = append(effects,
			effCancelTimer{Name: writingIndicatorTimerName},
			effUISetIsWriting{Writing: false},
		)
	}
	return state, effects
}

func reduceIsWriting(state State, ev evIsWriting) (State, []actor.Effect) {
	if !ev.Event.IsAgent {
		return state, nil
	}
	return startWritingIndicator(state)
}

// startWritingIndicator sets the indicator and (re)arms the clear timer.
// Restarting replaces any armed timer, so the clear always fires relative to
// the latest signal.
func startWritingIndicator(state State) (State, []actor.Effect) {
	state.AgentWriting = true
	return state, []actor.Effect{
		effUISetIsWriting{Writing: true},
		effStartTimer{Name: writingIndicatorTimerName, After: writingIndicatorTimeout},
	}
}

func reduceLocalText(state State, ev evLocalText) (State, []actor.Effect) {
	msg := messages.Message{
		Kind: messages.KindChat,
		Body: ev.Text,
	}
	effects := []actor.Effect{effAppendMessage{Message: msg}}

	// Bots answer quickly; simulate the reply delay with the indicator.
	if state.Agent != nil && state.Agent.IsBot {
		var indicatorEffects []actor.Effect
		state, indicatorEffects = startWritingIndicator(state)
		effects = append(effects, indicatorEffects...)
	}
	return state, effects
}

func reduceLeft(state State, ev evLeft) (State, []actor.Effect) {
	if ev.RemoteCount > 0 || state.Phase == PhaseClosed {
		return state, nil
	}

	state.Phase = PhaseClosed
	// Remote termination discards the pending offer without answering it.
	state.Pending = nil
	effects := []actor.Effect{
		effUISetClosedByAgent{},
		effAppendMessage{Message: messages.System(messages.NoticeRemoteClose)},
		effCancelTimer{Name: writingIndicatorTimerName},
		effDeleteSnapshot{},
	}
	if state.AgentWriting {
		state.AgentWriting = false
		effects = append(effects, effUISetIsWriting{Writing: false})
	}
	return state, effects
}

func reduceCloseContact(state State, cmd cmdCloseContact) (State, []actor.Effect) {
	if state.Phase == PhaseClosed {
		// Already closed: leave again is harmless, but no duplicate notice.
		reply(cmd.Reply, nil)
		return state, []actor.Effect{effLeaveChannel{}}
	}
	if !state.ready() {
		reply(cmd.Reply, nil)
		return state, nil
	}

	state.Phase = PhaseClosed
	// Closing discards the pending offer without invoking its responder.
	state.Pending = nil
	effects := []actor.Effect{
		effLeaveChannel{},
		effAppendMessage{Message: messages.System(messages.NoticeLocalClose)},
		effUISetClosedByVisitor{},
		effCancelTimer{Name: writingIndicatorTimerName},
		effDeleteSnapshot{},
	}
	if state.AgentWriting {
		state.AgentWriting = false
		effects = append(effects, effUISetIsWriting{Writing: false})
	}
	reply(cmd.Reply, nil)
	return state, effects
}

func reduceTimerFired(state State, ev evTimerFired) (State, []actor.Effect) {
	switch ev.Name {
	case writingIndicatorTimerName:
		state.AgentWriting = false
		return state, []actor.Effect{effUISetIsWriting{Writing: false}}
	default:
		return state, nil
	}
}
