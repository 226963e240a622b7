package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/backstage/services/stocktake/internal/cache"
	"example.com/backstage/services/stocktake/internal/models"
	"example.com/backstage/services/stocktake/internal/reconcile"
	"example.com/backstage/services/stocktake/internal/tenant"
)

const adminViewTTL = 30 * time.Second

// CounterViewData is the blind projection served to counters. It carries only
// the actor's own phase entries and progress; theoretical quantities, other
// phases' entries and resolution state never appear in this structure.
type CounterViewData struct {
	CountingID   uint                  `json:"counting_id"`
	Code         string                `json:"code"`
	Status       models.CountingStatus `json:"status"`
	Phase        int                   `json:"phase"`
	Instructions string                `json:"instructions,omitempty"`
	Deadline     *time.Time            `json:"deadline,omitempty"`
	Progress     ProgressData          `json:"progress"`
	Items        []CounterViewItem     `json:"items"`
}

// CounterViewItem is one item as a counter sees it
type CounterViewItem struct {
	ItemID     uint       `json:"item_id"`
	ProductID  string     `json:"product_id"`
	LocationID string     `json:"location_id"`
	Quantity   *float64   `json:"quantity"`
	CountedAt  *time.Time `json:"counted_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// ProgressData summarizes an assignment's completion
type ProgressData struct {
	CountedItems int     `json:"counted_items"`
	TotalItems   int     `json:"total_items"`
	Percent      float64 `json:"percent"`
}

// CounterView builds the blind view for the acting counter's phase. During
// the third count only the disputed subset is listed.
func (s *countingService) CounterView(ctx context.Context, countingID uint) (*CounterViewData, error) {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	counting, err := s.repo.FindCountingByID(ctx, countingID)
	if err != nil {
		return nil, err
	}

	assignment := assignmentForCounter(counting, actorID)
	if assignment == nil {
		return nil, ErrNotACounter
	}
	phase := assignment.PhaseNumber

	view := &CounterViewData{
		CountingID:   counting.ID,
		Code:         counting.Code,
		Status:       counting.Status,
		Phase:        phase,
		Instructions: counting.Instructions,
		Deadline:     assignment.Deadline,
		Progress: ProgressData{
			CountedItems: assignment.CountedItems,
			TotalItems:   assignment.TotalItems,
			Percent:      assignment.Progress(),
		},
		Items: []CounterViewItem{},
	}

	for i := range counting.Items {
		item := &counting.Items[i]
		// The third counter only sees the subset named by the trigger
		if phase == 3 &&
			(item.ResolutionMethod != models.ResolutionPending ||
				item.FlagReason != reconcile.FlagThirdCountRequested) {
			continue
		}
		view.Items = append(view.Items, CounterViewItem{
			ItemID:     item.ID,
			ProductID:  item.ProductID,
			LocationID: item.LocationID,
			Quantity:   item.PhaseCount(phase),
			CountedAt:  item.PhaseCountedAt(phase),
			Notes:      item.PhaseNotes(phase),
		})
	}

	return view, nil
}

// assignmentForCounter picks the actor's assignment. An actor assigned to
// several phases gets the first non-completed one, phase order.
func assignmentForCounter(counting *models.Counting, actorID string) *models.CountAssignment {
	var fallback *models.CountAssignment
	for i := range counting.Assignments {
		assignment := &counting.Assignments[i]
		if assignment.CounterID != actorID {
			continue
		}
		if fallback == nil {
			fallback = assignment
		}
		if assignment.Status != models.AssignmentCompleted {
			return assignment
		}
	}
	return fallback
}

// AdminViewData is the full supervisor projection of a counting
type AdminViewData struct {
	Counting    *models.Counting  `json:"counting"`
	Items       []AdminViewItem   `json:"items"`
	Assignments []AdminAssignment `json:"assignments"`
	Summary     AdminSummary      `json:"summary"`
}

// AdminViewItem is one item with every phase value, resolution state and variance
type AdminViewItem struct {
	ItemID           uint                    `json:"item_id"`
	ProductID        string                  `json:"product_id"`
	LocationID       string                  `json:"location_id"`
	TheoreticalQty   float64                 `json:"theoretical_qty"`
	Count1Qty        *float64                `json:"count1_qty"`
	Count2Qty        *float64                `json:"count2_qty"`
	Count3Qty        *float64                `json:"count3_qty"`
	FinalQty         *float64                `json:"final_qty"`
	Variance         float64                 `json:"variance"`
	ResolutionMethod models.ResolutionMethod `json:"resolution_method"`
	ResolutionNotes  string                  `json:"resolution_notes,omitempty"`
	ResolvedBy       string                  `json:"resolved_by,omitempty"`
	IsFlagged        bool                    `json:"is_flagged"`
	FlagReason       string                  `json:"flag_reason,omitempty"`
	IsUnexpectedItem bool                    `json:"is_unexpected_item"`
}

// AdminAssignment is one phase assignment with progress
type AdminAssignment struct {
	PhaseNumber  int                     `json:"phase_number"`
	CounterID    string                  `json:"counter_id"`
	Status       models.AssignmentStatus `json:"status"`
	CountedItems int                     `json:"counted_items"`
	TotalItems   int                     `json:"total_items"`
	Percent      float64                 `json:"percent"`
	Deadline     *time.Time              `json:"deadline,omitempty"`
	Overdue      bool                    `json:"overdue"`
}

// AdminSummary aggregates resolution state across a counting's items
type AdminSummary struct {
	TotalItems         int     `json:"total_items"`
	Pending            int     `json:"pending"`
	AutoResolved       int     `json:"auto_resolved"`
	ThirdCountResolved int     `json:"third_count_resolved"`
	ManuallyOverridden int     `json:"manually_overridden"`
	FlaggedItems       int     `json:"flagged_items"`
	UnexpectedItems    int     `json:"unexpected_items"`
	TotalVariance      float64 `json:"total_variance"`
	AbsoluteVariance   float64 `json:"absolute_variance"`
}

// AdminView builds the full supervisor projection, cached briefly in Redis.
// Every mutating operation invalidates the cached copy.
func (s *countingService) AdminView(ctx context.Context, countingID uint) (*AdminViewData, error) {
	if _, err := tenant.ActorFromContext(ctx); err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, adminViewKey(countingID))
		if err == nil {
			var view AdminViewData
			if err := json.Unmarshal([]byte(cached), &view); err == nil {
				return &view, nil
			}
		} else if err != cache.Nil {
			s.log.WithError(err).Debug("Admin view cache read failed")
		}
	}

	counting, err := s.repo.FindCountingByID(ctx, countingID)
	if err != nil {
		return nil, err
	}

	view := &AdminViewData{
		Counting: counting,
		Items:    make([]AdminViewItem, 0, len(counting.Items)),
	}

	now := time.Now().UTC()
	for i := range counting.Assignments {
		assignment := &counting.Assignments[i]
		view.Assignments = append(view.Assignments, AdminAssignment{
			PhaseNumber:  assignment.PhaseNumber,
			CounterID:    assignment.CounterID,
			Status:       assignment.Status,
			CountedItems: assignment.CountedItems,
			TotalItems:   assignment.TotalItems,
			Percent:      assignment.Progress(),
			Deadline:     assignment.Deadline,
			Overdue:      assignment.IsOverdue(now),
		})
	}

	view.Summary.TotalItems = len(counting.Items)
	for i := range counting.Items {
		item := &counting.Items[i]
		variance := item.Variance()
		view.Items = append(view.Items, AdminViewItem{
			ItemID:           item.ID,
			ProductID:        item.ProductID,
			LocationID:       item.LocationID,
			TheoreticalQty:   item.TheoreticalQty,
			Count1Qty:        item.Count1Qty,
			Count2Qty:        item.Count2Qty,
			Count3Qty:        item.Count3Qty,
			FinalQty:         item.FinalQty,
			Variance:         variance,
			ResolutionMethod: item.ResolutionMethod,
			ResolutionNotes:  item.ResolutionNotes,
			ResolvedBy:       item.ResolvedBy,
			IsFlagged:        item.IsFlagged,
			FlagReason:       item.FlagReason,
			IsUnexpectedItem: item.IsUnexpectedItem,
		})

		switch item.ResolutionMethod {
		case models.ResolutionPending:
			view.Summary.Pending++
		case models.ResolutionAutoAllMatch, models.ResolutionAutoCountersAgree:
			view.Summary.AutoResolved++
		case models.ResolutionThirdCountDecisive:
			view.Summary.ThirdCountResolved++
		case models.ResolutionManualOverride:
			view.Summary.ManuallyOverridden++
		}
		if item.IsFlagged {
			view.Summary.FlaggedItems++
		}
		if item.IsUnexpectedItem {
			view.Summary.UnexpectedItems++
		}
		view.Summary.TotalVariance += variance
		if variance < 0 {
			view.Summary.AbsoluteVariance -= variance
		} else {
			view.Summary.AbsoluteVariance += variance
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(view); err == nil {
			if err := s.cache.Set(ctx, adminViewKey(countingID), string(data), adminViewTTL); err != nil {
				s.log.WithError(err).Debug("Admin view cache write failed")
			}
		}
	}

	return view, nil
}

func adminViewKey(countingID uint) string {
	return fmt.Sprintf("stocktake:admin_view:%d", countingID)
}
