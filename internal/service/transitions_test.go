package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/stocktake/internal/models"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to models.CountingStatus
	}{
		{models.StatusDraft, models.StatusScheduled},
		{models.StatusDraft, models.StatusPhase1InProgress},
		{models.StatusScheduled, models.StatusPhase1InProgress},
		{models.StatusPhase1InProgress, models.StatusPhase1Completed},
		{models.StatusPhase1Completed, models.StatusPhase2InProgress},
		{models.StatusPhase1Completed, models.StatusPendingReview},
		{models.StatusPhase2InProgress, models.StatusPhase2Completed},
		{models.StatusPhase2Completed, models.StatusPendingReview},
		{models.StatusPendingReview, models.StatusPhase3InProgress},
		{models.StatusPhase3InProgress, models.StatusPhase3Completed},
		{models.StatusPhase3Completed, models.StatusPendingReview},
		{models.StatusPendingReview, models.StatusFinalized},
		{models.StatusDraft, models.StatusCancelled},
		{models.StatusPhase2InProgress, models.StatusCancelled},
		{models.StatusPendingReview, models.StatusCancelled},
	}
	for _, tt := range allowed {
		require.True(t, canTransition(tt.from, tt.to), "%s -> %s should be allowed", tt.from, tt.to)
	}

	denied := []struct {
		from, to models.CountingStatus
	}{
		{models.StatusDraft, models.StatusFinalized},
		{models.StatusDraft, models.StatusPhase2InProgress},
		{models.StatusScheduled, models.StatusPendingReview},
		{models.StatusPhase1InProgress, models.StatusPhase2InProgress},
		{models.StatusPhase1InProgress, models.StatusFinalized},
		{models.StatusPhase2Completed, models.StatusPhase1InProgress},
		{models.StatusFinalized, models.StatusCancelled},
		{models.StatusCancelled, models.StatusPhase1InProgress},
		{models.StatusFinalized, models.StatusPendingReview},
		{models.StatusCancelled, models.StatusCancelled},
	}
	for _, tt := range denied {
		require.False(t, canTransition(tt.from, tt.to), "%s -> %s should be denied", tt.from, tt.to)
	}
}

func TestTransitionRejectsWithTypedError(t *testing.T) {
	counting := &models.Counting{Status: models.StatusDraft}

	err := transition(counting, models.StatusFinalized)
	require.Error(t, err)

	transitionErr, ok := err.(*InvalidTransitionError)
	require.True(t, ok)
	require.Equal(t, models.StatusDraft, transitionErr.From)
	require.Equal(t, models.StatusFinalized, transitionErr.To)
	// A rejected transition leaves the status untouched
	require.Equal(t, models.StatusDraft, counting.Status)
}

func TestTransitionMutatesOnSuccess(t *testing.T) {
	counting := &models.Counting{Status: models.StatusPendingReview}
	require.NoError(t, transition(counting, models.StatusFinalized))
	require.Equal(t, models.StatusFinalized, counting.Status)
}
