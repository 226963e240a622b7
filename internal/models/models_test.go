package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCountingStatusIsTerminal(t *testing.T) {
	require.True(t, StatusFinalized.IsTerminal())
	require.True(t, StatusCancelled.IsTerminal())
	require.False(t, StatusDraft.IsTerminal())
	require.False(t, StatusPendingReview.IsTerminal())
	require.False(t, StatusPhase3InProgress.IsTerminal())
}

func TestCounterForPhase(t *testing.T) {
	c := &Counting{Counter1ID: "alice", Counter2ID: "bob", Counter3ID: "carol"}

	counter, err := c.CounterForPhase(1)
	require.NoError(t, err)
	require.Equal(t, "alice", counter)

	counter, err = c.CounterForPhase(3)
	require.NoError(t, err)
	require.Equal(t, "carol", counter)

	_, err = c.CounterForPhase(4)
	require.Error(t, err)
}

func TestHasPhase(t *testing.T) {
	c := &Counting{Counter1ID: "alice"}
	require.True(t, c.HasPhase(1))
	require.False(t, c.HasPhase(2))
	require.False(t, c.HasPhase(3))

	c.RequiresPhase2 = true
	c.Counter2ID = "bob"
	require.True(t, c.HasPhase(2))

	// A phase flag without a counter is not a configured phase
	c.RequiresPhase3 = true
	require.False(t, c.HasPhase(3))
	c.Counter3ID = "carol"
	require.True(t, c.HasPhase(3))
}

func TestNextPhaseAfter(t *testing.T) {
	twoPhase := &Counting{Counter1ID: "a", RequiresPhase2: true, Counter2ID: "b"}
	require.Equal(t, 2, twoPhase.NextPhaseAfter(1))
	require.Equal(t, 0, twoPhase.NextPhaseAfter(2))

	threePhase := &Counting{
		Counter1ID:     "a",
		RequiresPhase2: true,
		Counter2ID:     "b",
		RequiresPhase3: true,
		Counter3ID:     "c",
	}
	require.Equal(t, 3, threePhase.NextPhaseAfter(2))
	require.Equal(t, 0, threePhase.NextPhaseAfter(3))

	singlePhase := &Counting{Counter1ID: "a"}
	require.Equal(t, 0, singlePhase.NextPhaseAfter(1))
}

func TestSetAndReadPhaseCounts(t *testing.T) {
	item := &CountingItem{}
	now := time.Now().UTC()

	require.NoError(t, item.SetPhaseCount(2, 42.5, "shelf was dusty", now))
	require.Nil(t, item.PhaseCount(1))
	require.Equal(t, 42.5, *item.PhaseCount(2))
	require.Equal(t, now, *item.PhaseCountedAt(2))
	require.Equal(t, "shelf was dusty", item.PhaseNotes(2))

	require.Error(t, item.SetPhaseCount(0, 1, "", now))
}

func TestItemVariance(t *testing.T) {
	item := &CountingItem{TheoreticalQty: 100}
	require.Equal(t, 0.0, item.Variance())

	final := 95.0
	item.FinalQty = &final
	require.Equal(t, -5.0, item.Variance())
}

func TestAssignmentProgress(t *testing.T) {
	a := &CountAssignment{TotalItems: 0}
	require.Equal(t, 0.0, a.Progress())

	a.TotalItems = 4
	a.CountedItems = 1
	require.Equal(t, 25.0, a.Progress())

	a.CountedItems = 4
	require.Equal(t, 100.0, a.Progress())
}

func TestAssignmentIsOverdue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	a := &CountAssignment{Status: AssignmentInProgress}
	require.False(t, a.IsOverdue(now))

	a.Deadline = &past
	require.True(t, a.IsOverdue(now))

	a.Status = AssignmentCompleted
	require.False(t, a.IsOverdue(now))
}

func TestAssignmentStartAndComplete(t *testing.T) {
	now := time.Now().UTC()
	a := &CountAssignment{Status: AssignmentPending}

	a.Start(now)
	require.Equal(t, AssignmentInProgress, a.Status)
	require.Equal(t, now, *a.StartedAt)

	a.Complete(now)
	require.Equal(t, AssignmentCompleted, a.Status)
	require.Equal(t, now, *a.CompletedAt)
}

func TestStatusForPhaseHelpers(t *testing.T) {
	require.Equal(t, StatusPhase1InProgress, InProgressStatusForPhase(1))
	require.Equal(t, StatusPhase2InProgress, InProgressStatusForPhase(2))
	require.Equal(t, StatusPhase3InProgress, InProgressStatusForPhase(3))
	require.Equal(t, StatusPhase1Completed, CompletedStatusForPhase(1))
	require.Equal(t, StatusPhase2Completed, CompletedStatusForPhase(2))
	require.Equal(t, StatusPhase3Completed, CompletedStatusForPhase(3))
}
