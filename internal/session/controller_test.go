package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/internal/persistence"
	"github.com/lumachat/engage/internal/ui"
	"github.com/lumachat/engage/pkg/types"
)

const eventually = 2 * time.Second

// fakeChannel is an in-memory contact channel for scenario tests.
type fakeChannel struct {
	mu       sync.Mutex
	handlers channel.Handlers

	id         string
	offer      media.Offer
	agent      *types.Agent
	transcript []channel.TranscriptEntry

	offerErr error
	mergeErr error

	sentTexts    []string
	sentPayloads []map[string]any
	offered      []media.Offer
	muteCalls    []bool
	surveys      []map[string]any
	leaveCalls   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		id:    "contact-1",
		offer: media.Initial("chat"),
	}
}

func (f *fakeChannel) ID() string { return f.id }

func (f *fakeChannel) Subscribe(h channel.Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
}

func (f *fakeChannel) currentHandlers() channel.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

func (f *fakeChannel) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	return nil
}

func (f *fakeChannel) Send(payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentPayloads = append(f.sentPayloads, payload)
	return nil
}

func (f *fakeChannel) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTexts = append(f.sentTexts, text)
	return nil
}

func (f *fakeChannel) SendIsWriting() error { return nil }

func (f *fakeChannel) Attach(ctx context.Context, upload types.Upload) error { return nil }

func (f *fakeChannel) GetMediaOffer(ctx context.Context) (media.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offer.Clone(), nil
}

func (f *fakeChannel) OfferMedia(ctx context.Context, offer media.Offer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return f.offerErr
	}
	f.offered = append(f.offered, offer.Clone())
	f.offer = offer.Clone()
	return nil
}

func (f *fakeChannel) MergeMedia(ctx context.Context, diff media.Offer) (media.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	f.offer = diff.Clone()
	return f.offer.Clone(), nil
}

func (f *fakeChannel) MediaEngine(name string) (channel.Engine, error) {
	if name != media.EngineWebRTC {
		return nil, channel.ErrNoEngine
	}
	return fakeEngine{ch: f}, nil
}

func (f *fakeChannel) LocalCapabilities(ctx context.Context) (channel.Capabilities, error) {
	return channel.Capabilities{"chat": true}, nil
}

func (f *fakeChannel) RemoteCapabilities(ctx context.Context) (channel.Capabilities, error) {
	return channel.Capabilities{"chat": true}, nil
}

func (f *fakeChannel) AgentInfo() (types.Agent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agent == nil {
		return types.Agent{}, false
	}
	return *f.agent, true
}

func (f *fakeChannel) Transcript() []channel.TranscriptEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.TranscriptEntry(nil), f.transcript...)
}

func (f *fakeChannel) StoreSurvey(survey map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surveys = append(f.surveys, survey)
	return nil
}

func (f *fakeChannel) Snapshot() persistence.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := persistence.Snapshot{
		ContactID:    f.id,
		Token:        "tok",
		InitialOffer: f.offer.Clone(),
	}
	if f.agent != nil {
		a := *f.agent
		snap.Agent = &a
	}
	return snap
}

type fakeEngine struct {
	ch *fakeChannel
}

func (e fakeEngine) MuteLocalAudio() error {
	e.ch.mu.Lock()
	defer e.ch.mu.Unlock()
	e.ch.muteCalls = append(e.ch.muteCalls, true)
	return nil
}

func (e fakeEngine) UnmuteLocalAudio() error {
	e.ch.mu.Lock()
	defer e.ch.mu.Unlock()
	e.ch.muteCalls = append(e.ch.muteCalls, false)
	return nil
}

var _ channel.Channel = (*fakeChannel)(nil)

type fakeFactory struct {
	ch        *fakeChannel
	createErr error

	mu          sync.Mutex
	resumeCalls int
	createCalls int
}

func (f *fakeFactory) Create(ctx context.Context, opts channel.ContactOptions) (channel.Channel, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.ch, nil
}

func (f *fakeFactory) Resume(ctx context.Context, snap persistence.Snapshot) (channel.Channel, error) {
	f.mu.Lock()
	f.resumeCalls++
	f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.ch, nil
}

type recordingBridge struct {
	mu       sync.Mutex
	created  int
	answered []types.Agent
	failed   []string
	events   []string
	removed  int
}

func (b *recordingBridge) InteractionCreated(payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created++
}

func (b *recordingBridge) InteractionAnswered(agent types.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answered = append(b.answered, agent)
}

func (b *recordingBridge) InteractionFailed(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = append(b.failed, message)
}

func (b *recordingBridge) InteractionEvent(eventType string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBridge) RemoveApp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed++
}

func (b *recordingBridge) snapshot() (created int, answered []types.Agent, failed []string, removed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created, append([]types.Agent(nil), b.answered...), append([]string(nil), b.failed...), b.removed
}

type fixture struct {
	controller *Controller
	ch         *fakeChannel
	factory    *fakeFactory
	store      *messages.MemoryStore
	tracker    *ui.Tracker
	bridge     *recordingBridge
	sched      *actor.ManualScheduler
	persist    *persistence.Store
}

func newFixture(t *testing.T, sc types.SessionContext) *fixture {
	t.Helper()
	f := &fixture{
		ch:      newFakeChannel(),
		store:   messages.NewMemoryStore(),
		tracker: ui.NewTracker(),
		bridge:  &recordingBridge{},
		sched:   actor.NewManualScheduler(),
	}
	f.factory = &fakeFactory{ch: f.ch}
	if sc.PersistenceID != "" {
		f.persist = persistence.NewStore(t.TempDir())
	}
	f.controller = NewController(sc, Deps{
		Factory:   f.factory,
		Store:     f.store,
		Projector: f.tracker,
		Bridge:    f.bridge,
		Persist:   f.persist,
		Scheduler: f.sched,
	})
	t.Cleanup(f.controller.Shutdown)
	return f
}

func (f *fixture) agentJoins(agent types.Agent) {
	f.ch.currentHandlers().Joined(channel.JoinedEvent{
		UserID: agent.ID,
		Nick:   agent.Nick,
		IsBot:  agent.IsBot,
	})
}

func TestControllerLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())
	require.NoError(t, f.controller.Initialize())
	require.Equal(t, PhaseQueued, f.controller.State().Phase)

	// The queue notice shows up while waiting for an agent.
	require.Eventually(t, func() bool {
		msgs := f.store.List()
		return len(msgs) == 1 && msgs[0].Kind == messages.KindSystem
	}, eventually, 10*time.Millisecond)

	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})

	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	// The queue notice was replaced by the welcome message.
	require.Eventually(t, func() bool {
		msgs := f.store.List()
		return len(msgs) == 1 && msgs[0].Kind == messages.KindSystem &&
			msgs[0].Body == "You are now chatting with Ada"
	}, eventually, 10*time.Millisecond)

	created, answered, failed, _ := f.bridge.snapshot()
	require.Equal(t, 1, created)
	require.Len(t, answered, 1)
	require.Equal(t, "Ada", answered[0].Nick)
	require.Empty(t, failed)

	require.NoError(t, f.controller.SendText("hello"))
	require.Eventually(t, func() bool {
		f.ch.mu.Lock()
		defer f.ch.mu.Unlock()
		return len(f.ch.sentTexts) == 1 && f.ch.sentTexts[0] == "hello"
	}, eventually, 10*time.Millisecond)

	require.NoError(t, f.controller.CloseContact())
	require.Equal(t, PhaseClosed, f.controller.State().Phase)
	require.Eventually(t, func() bool {
		f.ch.mu.Lock()
		defer f.ch.mu.Unlock()
		return f.ch.leaveCalls == 1
	}, eventually, 10*time.Millisecond)
	require.True(t, f.tracker.Snapshot().ClosedByVisitor)
}

func TestControllerInitializeFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())
	f.factory.createErr = errors.New("campaign not found")

	err := f.controller.Initialize()
	require.Error(t, err)
	require.Equal(t, PhaseNew, f.controller.State().Phase)

	require.Eventually(t, func() bool {
		_, _, failed, _ := f.bridge.snapshot()
		return len(failed) == 1 && failed[0] == "campaign not found"
	}, eventually, 10*time.Millisecond)

	_, ok := f.controller.Channel()
	require.False(t, ok)
}

func TestControllerWritingIndicatorDebounce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())
	require.NoError(t, f.controller.Initialize())
	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	writes := func() {
		f.ch.currentHandlers().IsWriting(channel.IsWritingEvent{FromID: "a1", IsAgent: true})
	}

	// SendText is used as a mailbox barrier: once it returns, every earlier
	// event has been reduced and its effects executed.
	writes()
	require.NoError(t, f.controller.SendText("sync-1"))
	require.True(t, f.tracker.Snapshot().IsWriting)
	require.Equal(t, 1, f.sched.Pending())

	// A second signal replaces the armed timer instead of stacking one.
	writes()
	require.NoError(t, f.controller.SendText("sync-2"))
	require.Equal(t, 1, f.sched.Pending())

	require.True(t, f.sched.Fire())
	require.Eventually(t, func() bool {
		return !f.tracker.Snapshot().IsWriting
	}, eventually, 10*time.Millisecond)

	// Exactly one clear: nothing left to fire.
	require.False(t, f.sched.Fire())
}

func TestControllerResume(t *testing.T) {
	t.Parallel()

	sc := testContext()
	sc.PersistenceID = "visitor-7"
	f := newFixture(t, sc)

	agent := types.Agent{ID: "a1", Nick: "Ada"}
	f.ch.agent = &agent
	f.ch.transcript = []channel.TranscriptEntry{
		{Type: "text", Body: "welcome back", IsAgent: true, FromNick: "Ada"},
	}
	require.NoError(t, f.persist.Save("visitor-7", persistence.Snapshot{
		ContactID:    "contact-1",
		Token:        "tok",
		InitialOffer: media.Initial("chat"),
	}))

	require.NoError(t, f.controller.Initialize())

	f.factory.mu.Lock()
	resumes, creates := f.factory.resumeCalls, f.factory.createCalls
	f.factory.mu.Unlock()
	require.Equal(t, 1, resumes)
	require.Zero(t, creates)

	require.Eventually(t, func() bool {
		st := f.controller.State()
		return st.Phase == PhaseActive && st.Agent != nil && st.Agent.Nick == "Ada"
	}, eventually, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		msgs := f.store.List()
		return len(msgs) == 1 && msgs[0].Body == "welcome back"
	}, eventually, 10*time.Millisecond)
}

func TestControllerMediaUpgradeAndHangUp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())
	require.NoError(t, f.controller.Initialize())
	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	require.NoError(t, f.controller.AskForVideoUpgrade())
	require.Eventually(t, func() bool {
		f.ch.mu.Lock()
		defer f.ch.mu.Unlock()
		if len(f.ch.offered) == 0 {
			return false
		}
		last := f.ch.offered[len(f.ch.offered)-1]
		return last.Active(media.Video) && last.Active(media.Voice)
	}, eventually, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return !f.controller.State().OfferInFlight
	}, eventually, 10*time.Millisecond)

	require.NoError(t, f.controller.HangUp())
	require.Eventually(t, func() bool {
		f.ch.mu.Lock()
		defer f.ch.mu.Unlock()
		if len(f.ch.offered) < 2 {
			return false
		}
		last := f.ch.offered[len(f.ch.offered)-1]
		return !last.Active(media.Voice) && !last.Active(media.Video) && last.Active(media.Chat)
	}, eventually, 10*time.Millisecond)
}

func TestControllerIncomingOfferAcceptAndReject(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())
	require.NoError(t, f.controller.Initialize())
	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	incoming := media.Offer{
		media.Chat:  {TX: media.Required, RX: media.Required},
		media.Voice: {TX: media.Required, RX: media.Required, Engine: media.EngineWebRTC},
	}

	var mu sync.Mutex
	var outcomes []error
	respond := func(err error, _ media.Offer) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, err)
	}

	f.ch.currentHandlers().MediaOffer(channel.MediaOfferEvent{Offer: incoming, Respond: respond})
	require.Eventually(t, func() bool {
		return f.tracker.Snapshot().IncomingMedia == media.Voice
	}, eventually, 10*time.Millisecond)

	require.NoError(t, f.controller.AcceptOffer())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 1 && outcomes[0] == nil
	}, eventually, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.tracker.Snapshot().VoiceAccepted
	}, eventually, 10*time.Millisecond)

	// The slot is cleared: a second resolution is refused.
	require.ErrorIs(t, f.controller.AcceptOffer(), ErrNoPendingOffer)
	require.ErrorIs(t, f.controller.RejectOffer(), ErrNoPendingOffer)

	// A fresh offer can be rejected, posting the call-rejected notice.
	require.Eventually(t, func() bool {
		return !f.controller.State().OfferInFlight
	}, eventually, 10*time.Millisecond)

	video := media.Offer{
		media.Video: {TX: media.Required, RX: media.Required, Engine: media.EngineWebRTC},
	}
	f.ch.currentHandlers().MediaOffer(channel.MediaOfferEvent{Offer: video, Respond: respond})
	require.Eventually(t, func() bool {
		return f.controller.State().Pending != nil
	}, eventually, 10*time.Millisecond)

	require.NoError(t, f.controller.RejectOffer())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 2 && errors.Is(outcomes[1], channel.ErrOfferDeclined)
	}, eventually, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, msg := range f.store.List() {
			if msg.Body == "Call rejected" {
				return true
			}
		}
		return false
	}, eventually, 10*time.Millisecond)
}

func TestControllerMuteToggle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())
	require.NoError(t, f.controller.Initialize())

	require.NoError(t, f.controller.MuteToggle(true))
	require.Eventually(t, func() bool {
		snap := f.tracker.Snapshot()
		return snap.Muted && !snap.MuteInProgress
	}, eventually, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.controller.State().Muted
	}, eventually, 10*time.Millisecond)

	require.NoError(t, f.controller.MuteToggle(false))
	require.Eventually(t, func() bool {
		return !f.tracker.Snapshot().Muted && !f.controller.State().Muted
	}, eventually, 10*time.Millisecond)
}
