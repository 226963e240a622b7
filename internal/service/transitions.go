package service

import (
	"example.com/backstage/services/stocktake/internal/models"
)

// transitionTable is the closed set of legal status changes. Phase 2/3 states
// are entered only when the counting configures those phases; Cancelled is
// reachable from every non-terminal state and is handled separately in Cancel.
var transitionTable = map[models.CountingStatus][]models.CountingStatus{
	models.StatusDraft:            {models.StatusScheduled, models.StatusPhase1InProgress},
	models.StatusScheduled:        {models.StatusPhase1InProgress},
	models.StatusPhase1InProgress: {models.StatusPhase1Completed},
	models.StatusPhase1Completed:  {models.StatusPhase2InProgress, models.StatusPendingReview},
	models.StatusPhase2InProgress: {models.StatusPhase2Completed},
	models.StatusPhase2Completed:  {models.StatusPhase3InProgress, models.StatusPendingReview},
	models.StatusPhase3InProgress: {models.StatusPhase3Completed},
	models.StatusPhase3Completed:  {models.StatusPendingReview},
	models.StatusPendingReview:    {models.StatusPhase3InProgress, models.StatusFinalized},
	models.StatusFinalized:        {},
	models.StatusCancelled:        {},
}

// canTransition reports whether from -> to is in the transition table
func canTransition(from, to models.CountingStatus) bool {
	if to == models.StatusCancelled {
		return !from.IsTerminal()
	}
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition mutates the counting's status or rejects with a typed error
func transition(counting *models.Counting, to models.CountingStatus) error {
	if !canTransition(counting.Status, to) {
		return &InvalidTransitionError{From: counting.Status, To: to}
	}
	counting.Status = to
	return nil
}
