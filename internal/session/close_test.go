package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/closeflow"
	"github.com/lumachat/engage/pkg/types"
)

func TestRequestCloseBeforeContactStarted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())

	action, err := f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.RemoveApp, action)

	require.Eventually(t, func() bool {
		_, _, _, removed := f.bridge.snapshot()
		return removed == 1
	}, eventually, 10*time.Millisecond)
}

func TestRequestCloseWhileQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.SessionContext{CampaignID: "camp-1"})
	require.NoError(t, f.controller.Initialize())
	require.Equal(t, PhaseQueued, f.controller.State().Phase)

	action, err := f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.CloseAndRemove, action)

	require.Eventually(t, func() bool {
		f.ch.mu.Lock()
		leaves := f.ch.leaveCalls
		f.ch.mu.Unlock()
		_, _, _, removed := f.bridge.snapshot()
		return leaves == 1 && removed == 1
	}, eventually, 10*time.Millisecond)
}

func TestRequestCloseConfirmThenStay(t *testing.T) {
	t.Parallel()

	sc := testContext()
	sc.HasSurvey = false
	sc.Variables.AskCloseConfirm = true
	sc.Variables.StayInAppAfterClose = true
	f := newFixture(t, sc)

	require.NoError(t, f.controller.Initialize())
	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	// First request only shows the confirmation modal.
	action, err := f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.ShowCloseModal, action)
	require.True(t, f.tracker.Snapshot().CloseModal)
	require.Equal(t, PhaseActive, f.controller.State().Phase)

	// Confirming closes the contact but keeps the widget mounted, with the
	// modal re-shown in its closed form.
	action, err = f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.CloseAndStay, action)
	require.Equal(t, PhaseClosed, f.controller.State().Phase)
	require.True(t, f.tracker.Snapshot().CloseModal)
	require.Eventually(t, func() bool {
		return f.tracker.Snapshot().ClosedByVisitor
	}, eventually, 10*time.Millisecond)

	_, _, _, removed := f.bridge.snapshot()
	require.Zero(t, removed)
}

func TestRequestCloseDismissModal(t *testing.T) {
	t.Parallel()

	sc := testContext()
	sc.Variables.AskCloseConfirm = true
	f := newFixture(t, sc)

	require.NoError(t, f.controller.Initialize())
	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	action, err := f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.ShowCloseModal, action)

	f.controller.DismissCloseModal()
	require.False(t, f.tracker.Snapshot().CloseModal)
	require.Equal(t, PhaseActive, f.controller.State().Phase)
}

func TestRequestCloseSurveySequence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testContext())
	require.NoError(t, f.controller.Initialize())
	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	// Closing an active contact with a survey closes and shows the survey.
	action, err := f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.CloseAndSurvey, action)
	require.Equal(t, PhaseClosed, f.controller.State().Phase)
	require.True(t, f.tracker.Snapshot().SurveyVisible)

	require.NoError(t, f.controller.SubmitSurvey(map[string]any{"rating": 5}))
	f.ch.mu.Lock()
	require.Len(t, f.ch.surveys, 1)
	f.ch.mu.Unlock()

	// The next step removes the widget.
	action, err = f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.RemoveApp, action)
	require.Eventually(t, func() bool {
		_, _, _, removed := f.bridge.snapshot()
		return removed == 1
	}, eventually, 10*time.Millisecond)
}

func TestRemoteCloseThenRemove(t *testing.T) {
	t.Parallel()

	sc := testContext()
	sc.HasSurvey = false
	f := newFixture(t, sc)

	require.NoError(t, f.controller.Initialize())
	f.agentJoins(types.Agent{ID: "a1", Nick: "Ada"})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseActive
	}, eventually, 10*time.Millisecond)

	f.ch.currentHandlers().Left(channel.LeftEvent{RemoteCount: 0})
	require.Eventually(t, func() bool {
		return f.controller.State().Phase == PhaseClosed
	}, eventually, 10*time.Millisecond)
	require.True(t, f.tracker.Snapshot().ClosedByAgent)

	action, err := f.controller.RequestClose()
	require.NoError(t, err)
	require.Equal(t, closeflow.RemoveApp, action)
}
