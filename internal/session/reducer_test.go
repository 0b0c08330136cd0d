package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/pkg/types"
)

func testContext() types.SessionContext {
	return types.SessionContext{
		CampaignID:     "camp-1",
		RequestedMedia: "chat",
		Language:       "en",
		HasSurvey:      true,
		CanRemoveApp:   true,
		Variables: types.Variables{
			ShowWelcomeMessage: true,
		},
	}
}

func readyState() State {
	st := NewState(testContext())
	st.Phase = PhaseQueued
	st.Media = media.Initial("chat")
	return st
}

func activeState() State {
	st := readyState()
	st.Phase = PhaseActive
	agent := types.Agent{ID: "a1", Nick: "Ada"}
	st.Agent = &agent
	return st
}

// hasEffect reports whether effects contains an effect of type E and returns
// the first match.
func findEffect[E actor.Effect](t *testing.T, effects []actor.Effect) (E, bool) {
	t.Helper()
	for _, eff := range effects {
		if e, ok := eff.(E); ok {
			return e, true
		}
	}
	var zero E
	return zero, false
}

func requireEffect[E actor.Effect](t *testing.T, effects []actor.Effect) E {
	t.Helper()
	e, ok := findEffect[E](t, effects)
	require.True(t, ok, "expected effect %T in %#v", e, effects)
	return e
}

func TestReduceStart(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	st, effects := actor.Step(NewState(testContext()), cmdStart{Reply: reply}, Reduce)

	require.Equal(t, PhaseStarting, st.Phase)
	requireEffect[effInstallChannel](t, effects)
	require.Empty(t, reply)

	// A second start while starting acks immediately and does nothing.
	reply2 := make(chan error, 1)
	st2, effects2 := actor.Step(st, cmdStart{Reply: reply2}, Reduce)
	require.Equal(t, st.Phase, st2.Phase)
	require.Empty(t, effects2)
	require.NoError(t, <-reply2)
}

func TestReduceChannelReady(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	st := NewState(testContext())
	st.Phase = PhaseStarting
	st.PendingStartReply = reply

	st, effects := actor.Step(st, evChannelReady{Media: media.Initial("chat")}, Reduce)

	require.Equal(t, PhaseQueued, st.Phase)
	require.Nil(t, st.PendingStartReply)
	require.NoError(t, <-reply)
	requireEffect[effBridgeCreated](t, effects)
	requireEffect[effFetchCapabilities](t, effects)
	requireEffect[effPersistSnapshot](t, effects)
	notice := requireEffect[effPostQueueNotice](t, effects)
	require.NotEmpty(t, st.QueueNoticeID)
	require.Equal(t, st.QueueNoticeID, notice.ID)
	_, resumed := findEffect[effRecoverResume](t, effects)
	require.False(t, resumed)
}

func TestReduceAgentJoinedRightAfterChannelReady(t *testing.T) {
	t.Parallel()

	st := NewState(testContext())
	st.Phase = PhaseStarting

	// No inputs between channel install and the agent joining: the notice id
	// must already be in state, so the join can remove the notice.
	st, _ = actor.Step(st, evChannelReady{Media: media.Initial("chat")}, Reduce)
	noticeID := st.QueueNoticeID
	require.NotEmpty(t, noticeID)

	st, effects := actor.Step(st, evAgentJoined{Agent: types.Agent{ID: "a1", Nick: "Ada"}}, Reduce)
	require.Empty(t, st.QueueNoticeID)
	require.Equal(t, noticeID, requireEffect[effRemoveMessage](t, effects).ID)
}

func TestReduceChannelReadyResumed(t *testing.T) {
	t.Parallel()

	st := NewState(testContext())
	st.Phase = PhaseStarting

	st, effects := actor.Step(st, evChannelReady{Resumed: true, Media: media.Initial("voice")}, Reduce)

	require.True(t, st.Resumed)
	require.True(t, st.TranscriptReplayed)
	requireEffect[effRecoverResume](t, effects)
	requireEffect[effFetchMedia](t, effects)
	_, queued := findEffect[effPostQueueNotice](t, effects)
	require.False(t, queued)
}

func TestReduceChannelFailed(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	reply := make(chan error, 1)
	st := NewState(testContext())
	st.Phase = PhaseStarting
	st.PendingStartReply = reply

	st, effects := actor.Step(st, evChannelFailed{Err: boom}, Reduce)

	require.Equal(t, PhaseNew, st.Phase)
	require.ErrorIs(t, <-reply, boom)
	eff := requireEffect[effBridgeFailed](t, effects)
	require.Equal(t, "boom", eff.Message)
}

func TestReduceCommandsRequireReadyContact(t *testing.T) {
	t.Parallel()

	newReply := func() chan error { return make(chan error, 1) }
	commands := []func(chan error) actor.Input{
		func(r chan error) actor.Input { return cmdSendText{Text: "hi", Reply: r} },
		func(r chan error) actor.Input { return cmdSendAttachment{Reply: r} },
		func(r chan error) actor.Input { return cmdSendPostBack{Reply: r} },
		func(r chan error) actor.Input { return cmdQuickReply{Reply: r} },
		func(r chan error) actor.Input { return cmdVisitorWriting{Reply: r} },
		func(r chan error) actor.Input { return cmdHangUp{Reply: r} },
		func(r chan error) actor.Input { return cmdMuteToggle{Reply: r} },
		func(r chan error) actor.Input { return cmdAskUpgrade{Kind: media.Voice, Reply: r} },
		func(r chan error) actor.Input { return cmdToggleVideo{Show: true, Reply: r} },
	}

	for _, build := range commands {
		r := newReply()
		_, effects := actor.Step(NewState(testContext()), build(r), Reduce)
		require.Empty(t, effects)
		require.ErrorIs(t, <-r, ErrNotReady)

		closed := NewState(testContext())
		closed.Phase = PhaseClosed
		r = newReply()
		_, effects = actor.Step(closed, build(r), Reduce)
		require.Empty(t, effects)
		require.ErrorIs(t, <-r, ErrSessionClosed)
	}
}

func TestReduceSendText(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	_, effects := actor.Step(readyState(), cmdSendText{Text: "hello", Reply: reply}, Reduce)
	require.NoError(t, <-reply)
	eff := requireEffect[effSendText](t, effects)
	require.Equal(t, "hello", eff.Text)
}

func TestReduceSendAttachment(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	upload := types.Upload{Name: "cat.png", Data: []byte{1, 2}}
	_, effects := actor.Step(readyState(), cmdSendAttachment{Upload: upload, Reply: reply}, Reduce)
	require.NoError(t, <-reply)

	uploading := requireEffect[effUISetUploading](t, effects)
	require.True(t, uploading.Uploading)
	attach := requireEffect[effAttach](t, effects)
	require.Equal(t, "cat.png", attach.Upload.Name)

	// Completion clears the flag regardless of outcome.
	_, effects = actor.Step(readyState(), evAttachDone{Err: errors.New("too big")}, Reduce)
	cleared := requireEffect[effUISetUploading](t, effects)
	require.False(t, cleared.Uploading)
}

func TestReduceSendPostBackRouting(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	_, effects := actor.Step(readyState(), cmdSendPostBack{
		PostBack: types.PostBack{Type: "postback", Title: "Yes"},
		Reply:    reply,
	}, Reduce)
	require.NoError(t, <-reply)
	payload := requireEffect[effSendPayload](t, effects)
	require.Equal(t, "Yes", payload.Payload["title"])

	reply = make(chan error, 1)
	_, effects = actor.Step(readyState(), cmdSendPostBack{
		PostBack: types.PostBack{Type: "web_url", Title: "Docs", URL: "https://docs"},
		Reply:    reply,
	}, Reduce)
	require.NoError(t, <-reply)
	ev := requireEffect[effBridgeEvent](t, effects)
	require.Equal(t, "web_url", ev.Type)
	require.Equal(t, "https://docs", ev.Payload["url"])
}

func TestReduceQuickReply(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	_, effects := actor.Step(readyState(), cmdQuickReply{
		MessageID: "m-1",
		PostBack:  types.PostBack{Title: "Sure"},
		Reply:     reply,
	}, Reduce)
	require.NoError(t, <-reply)
	require.Equal(t, "m-1", requireEffect[effMarkReplyPicked](t, effects).ID)
	require.Equal(t, "Sure", requireEffect[effSendText](t, effects).Text)
}

func TestReduceAgentJoined(t *testing.T) {
	t.Parallel()

	st := readyState()
	st.QueueNoticeID = "q-1"

	st, effects := actor.Step(st, evAgentJoined{Agent: types.Agent{ID: "a1", Nick: "Ada"}}, Reduce)

	require.Equal(t, PhaseActive, st.Phase)
	require.NotNil(t, st.Agent)
	require.Equal(t, "Ada", st.Agent.Nick)
	require.Empty(t, st.QueueNoticeID)

	require.Equal(t, "q-1", requireEffect[effRemoveMessage](t, effects).ID)
	welcome := requireEffect[effAppendMessage](t, effects)
	require.Equal(t, messages.KindSystem, welcome.Message.Kind)
	require.Contains(t, welcome.Message.Body, "Ada")
	requireEffect[effUISetAgent](t, effects)
	requireEffect[effBridgeAnswered](t, effects)
	requireEffect[effFetchMedia](t, effects)
	requireEffect[effPersistSnapshot](t, effects)
}

func TestReduceAgentJoinedReplacesAgent(t *testing.T) {
	t.Parallel()

	st := activeState()
	st, _ = actor.Step(st, evAgentJoined{Agent: types.Agent{ID: "a2", Nick: "Grace", IsBot: true}}, Reduce)
	require.Equal(t, "a2", st.Agent.ID)
	require.True(t, st.Agent.IsBot)
}

func TestReduceRawMessageClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event channel.RawMessageEvent
		want  messages.Kind
	}{
		{"plain chat", channel.RawMessageEvent{Body: "hi"}, messages.KindChat},
		{"typed text", channel.RawMessageEvent{Type: "text", Body: "hi"}, messages.KindChat},
		{
			"quick replies",
			channel.RawMessageEvent{Body: "pick", QuickReplies: []types.PostBack{{Title: "A"}}},
			messages.KindQuickReplies,
		},
		{
			"template",
			channel.RawMessageEvent{Template: map[string]any{"type": "generic"}},
			messages.KindTemplate,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, effects := actor.Step(activeState(), evRawMessage{Event: tt.event}, Reduce)
			msg := requireEffect[effAppendMessage](t, effects)
			require.Equal(t, tt.want, msg.Message.Kind)
			requireEffect[effUINewMessage](t, effects)
		})
	}
}

func TestReduceRawMessageIgnoresNonTextFrames(t *testing.T) {
	t.Parallel()

	st := activeState()
	st, effects := actor.Step(st, evRawMessage{
		Event: channel.RawMessageEvent{Type: "action", Body: "internal-control-frame", IsAgent: true},
	}, Reduce)

	// Control frames never reach the transcript or the unread counter.
	require.Empty(t, effects)
	require.Equal(t, activeState(), st)
}

func TestReduceRawMessageFromAgentClearsWriting(t *testing.T) {
	t.Parallel()

	st := activeState()
	st.AgentWriting = true

	st, effects := actor.Step(st, evRawMessage{Event: channel.RawMessageEvent{Body: "hi", IsAgent: true}}, Reduce)

	require.False(t, st.AgentWriting)
	cancel := requireEffect[effCancelTimer](t, effects)
	require.Equal(t, writingIndicatorTimerName, cancel.Name)
	writing := requireEffect[effUISetIsWriting](t, effects)
	require.False(t, writing.Writing)
}

func TestReduceIsWriting(t *testing.T) {
	t.Parallel()

	st, effects := actor.Step(activeState(), evIsWriting{Event: channel.IsWritingEvent{IsAgent: true}}, Reduce)
	require.True(t, st.AgentWriting)
	require.True(t, requireEffect[effUISetIsWriting](t, effects).Writing)
	timer := requireEffect[effStartTimer](t, effects)
	require.Equal(t, writingIndicatorTimerName, timer.Name)
	require.Equal(t, writingIndicatorTimeout, timer.After)

	// Non-agent writers do not drive the indicator.
	_, effects = actor.Step(activeState(), evIsWriting{Event: channel.IsWritingEvent{}}, Reduce)
	require.Empty(t, effects)
}

func TestReduceLocalTextWithBotAgent(t *testing.T) {
	t.Parallel()

	st := activeState()
	st.Agent.IsBot = true

	st, effects := actor.Step(st, evLocalText{Text: "question"}, Reduce)
	require.True(t, st.AgentWriting)
	requireEffect[effAppendMessage](t, effects)
	requireEffect[effStartTimer](t, effects)

	// With a human agent, only the message is appended.
	st2, effects2 := actor.Step(activeState(), evLocalText{Text: "question"}, Reduce)
	require.False(t, st2.AgentWriting)
	requireEffect[effAppendMessage](t, effects2)
	_, hasTimer := findEffect[effStartTimer](t, effects2)
	require.False(t, hasTimer)
}

func TestReduceTimerFiredClearsWriting(t *testing.T) {
	t.Parallel()

	st := activeState()
	st.AgentWriting = true

	st, effects := actor.Step(st, evTimerFired{Name: writingIndicatorTimerName}, Reduce)
	require.False(t, st.AgentWriting)
	require.False(t, requireEffect[effUISetIsWriting](t, effects).Writing)
}

func TestReduceLeft(t *testing.T) {
	t.Parallel()

	st := activeState()
	st.AgentWriting = true
	st.Pending = &PendingOffer{Kind: media.Voice}

	st, effects := actor.Step(st, evLeft{RemoteCount: 0}, Reduce)

	require.Equal(t, PhaseClosed, st.Phase)
	require.Nil(t, st.Pending)
	require.False(t, st.AgentWriting)
	requireEffect[effUISetClosedByAgent](t, effects)
	notice := requireEffect[effAppendMessage](t, effects)
	require.Equal(t, messages.KindSystem, notice.Message.Kind)
	requireEffect[effCancelTimer](t, effects)
	requireEffect[effDeleteSnapshot](t, effects)
}

func TestReduceLeftWithRemainingParties(t *testing.T) {
	t.Parallel()

	st, effects := actor.Step(activeState(), evLeft{RemoteCount: 1, Reason: "transfer"}, Reduce)
	require.Equal(t, PhaseActive, st.Phase)
	require.Empty(t, effects)
}

func TestReduceCloseContact(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	st := activeState()
	st.AgentWriting = true
	st.Pending = &PendingOffer{Kind: media.Video}

	st, effects := actor.Step(st, cmdCloseContact{Reply: reply}, Reduce)

	require.NoError(t, <-reply)
	require.Equal(t, PhaseClosed, st.Phase)
	require.Nil(t, st.Pending)
	requireEffect[effLeaveChannel](t, effects)
	requireEffect[effUISetClosedByVisitor](t, effects)
	requireEffect[effCancelTimer](t, effects)
	requireEffect[effDeleteSnapshot](t, effects)
	notice := requireEffect[effAppendMessage](t, effects)
	require.Equal(t, messages.KindSystem, notice.Message.Kind)

	// Closing again leaves without a duplicate notice.
	reply = make(chan error, 1)
	_, effects = actor.Step(st, cmdCloseContact{Reply: reply}, Reduce)
	require.NoError(t, <-reply)
	requireEffect[effLeaveChannel](t, effects)
	_, hasNotice := findEffect[effAppendMessage](t, effects)
	require.False(t, hasNotice)
}

func TestReduceResumeRecovered(t *testing.T) {
	t.Parallel()

	agent := types.Agent{ID: "a1", Nick: "Ada"}
	st, effects := actor.Step(readyState(), evResumeRecovered{
		Agent: &agent,
		Transcript: []channel.TranscriptEntry{
			{Type: "text", Body: "hello", IsAgent: true, FromNick: "Ada"},
			{Type: "attachment", URL: "https://x/f.png", Meta: &messages.AttachmentMeta{OriginalURL: "https://o/f.png"}},
		},
	}, Reduce)

	require.Equal(t, PhaseActive, st.Phase)
	require.Equal(t, "Ada", st.Agent.Nick)
	requireEffect[effUISetAgent](t, effects)

	var appended []effAppendMessage
	for _, eff := range effects {
		if e, ok := eff.(effAppendMessage); ok {
			appended = append(appended, e)
		}
	}
	require.Len(t, appended, 2)
	require.Equal(t, "hello", appended[0].Message.Body)
	require.NotNil(t, appended[1].Message.Meta)
	require.Equal(t, "https://o/f.png", appended[1].Message.Meta.URL)
}

func TestReduceAttachmentPrefersOriginalURL(t *testing.T) {
	t.Parallel()

	_, effects := actor.Step(activeState(), evAttachment{Event: channel.AttachmentEvent{
		URL: "https://proxy/f.pdf",
		Meta: messages.AttachmentMeta{
			URL:         "https://proxy/f.pdf",
			OriginalURL: "https://origin/f.pdf",
			Desc:        "the file",
		},
		IsAgent:  true,
		FromNick: "Ada",
	}}, Reduce)

	msg := requireEffect[effAppendMessage](t, effects)
	require.NotNil(t, msg.Message.Meta)
	require.Equal(t, "https://origin/f.pdf", msg.Message.Meta.URL)
	require.Equal(t, "the file", msg.Message.Body)
	requireEffect[effUINewMessage](t, effects)
}

func TestReduceMuteToggle(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	_, effects := actor.Step(activeState(), cmdMuteToggle{Muted: true, Reply: reply}, Reduce)
	require.NoError(t, <-reply)
	requireEffect[effUISetMuteInProgress](t, effects)
	require.True(t, requireEffect[effEngineMute](t, effects).Muted)

	// Success records the new state.
	st, effects := actor.Step(activeState(), evMuteDone{Muted: true}, Reduce)
	require.True(t, st.Muted)
	require.True(t, requireEffect[effUISetMuted](t, effects).Muted)

	// Failure keeps the previous state but still clears in-progress.
	st2 := activeState()
	st2.Muted = false
	st2, effects = actor.Step(st2, evMuteDone{Muted: true, Err: errors.New("no engine")}, Reduce)
	require.False(t, st2.Muted)
	require.False(t, requireEffect[effUISetMuted](t, effects).Muted)
}
