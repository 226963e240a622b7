package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/stocktake/internal/cache"
	"example.com/backstage/services/stocktake/internal/eventlog"
	"example.com/backstage/services/stocktake/internal/messaging"
	"example.com/backstage/services/stocktake/internal/models"
	"example.com/backstage/services/stocktake/internal/reconcile"
	"example.com/backstage/services/stocktake/internal/repository"
	"example.com/backstage/services/stocktake/internal/snapshot"
	"example.com/backstage/services/stocktake/internal/tenant"
)

// Service defines the counting lifecycle operations
type Service interface {
	CreateCounting(ctx context.Context, input CreateCountingInput) (*models.Counting, error)
	Activate(ctx context.Context, countingID uint) (*models.Counting, error)
	SubmitCount(ctx context.Context, input SubmitCountInput) (*models.CountingItem, error)
	AddUnexpectedItem(ctx context.Context, input AddUnexpectedItemInput) (*models.CountingItem, error)
	TriggerThirdCount(ctx context.Context, countingID uint, itemIDs []uint) error
	ManualOverride(ctx context.Context, input OverrideInput) (*models.CountingItem, error)
	Finalize(ctx context.Context, countingID uint) (*models.Counting, error)
	Cancel(ctx context.Context, countingID uint, reason string) (*models.Counting, error)

	ListCountings(ctx context.Context) ([]*models.Counting, error)
	CounterView(ctx context.Context, countingID uint) (*CounterViewData, error)
	AdminView(ctx context.Context, countingID uint) (*AdminViewData, error)
	Events(ctx context.Context, countingID uint) ([]models.CountingEvent, error)
	VerifyChain(ctx context.Context, countingID uint) error
}

// ServiceConfig carries the collaborators a Service needs
type ServiceConfig struct {
	Repository repository.Repository
	Snapshots  snapshot.Provider
	Cache      cache.RedisClient
	Messaging  messaging.ServiceBusClient
	Logger     *logrus.Logger
}

// countingService is an implementation of the Service interface
type countingService struct {
	repo      repository.Repository
	events    *eventlog.Log
	snapshots snapshot.Provider
	cache     cache.RedisClient
	msg       messaging.ServiceBusClient
	log       *logrus.Logger
}

// NewService creates the counting lifecycle service
func NewService(cfg ServiceConfig) (Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("snapshot provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &countingService{
		repo:      cfg.Repository,
		events:    eventlog.New(cfg.Logger),
		snapshots: cfg.Snapshots,
		cache:     cfg.Cache,
		msg:       cfg.Messaging,
		log:       cfg.Logger,
	}, nil
}

// CreateCountingInput describes a new counting
type CreateCountingInput struct {
	ScopeType            models.ScopeType `json:"scope_type"`
	ScopeFilter          json.RawMessage  `json:"scope_filter"`
	Counter1ID           string           `json:"counter1_id"`
	Counter2ID           string           `json:"counter2_id"`
	Counter3ID           string           `json:"counter3_id"`
	RequiresPhase2       bool             `json:"requires_phase2"`
	RequiresPhase3       bool             `json:"requires_phase3"`
	AllowUnexpectedItems bool             `json:"allow_unexpected_items"`
	ScheduledStart       *time.Time       `json:"scheduled_start"`
	ScheduledEnd         *time.Time       `json:"scheduled_end"`
	Instructions         string           `json:"instructions"`
	Phase1Deadline       *time.Time       `json:"phase1_deadline"`
	Phase2Deadline       *time.Time       `json:"phase2_deadline"`
	Phase3Deadline       *time.Time       `json:"phase3_deadline"`
}

// CreateCounting freezes a stock snapshot for the requested scope and creates
// the counting aggregate with its items and phase assignments.
func (s *countingService) CreateCounting(ctx context.Context, input CreateCountingInput) (*models.Counting, error) {
	companyID, err := tenant.CompanyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if input.Counter1ID == "" {
		return nil, &ValidationError{Msg: "a phase-1 counter is required"}
	}
	// The phase flags and counter identities must agree: a configured counter
	// implies the phase and vice versa.
	if input.Counter2ID != "" {
		input.RequiresPhase2 = true
	}
	if input.RequiresPhase2 && input.Counter2ID == "" {
		return nil, &ValidationError{Msg: "phase 2 requires a counter"}
	}
	if input.Counter3ID != "" {
		input.RequiresPhase3 = true
	}
	if input.RequiresPhase3 && input.Counter3ID == "" {
		return nil, &ValidationError{Msg: "phase 3 requires a counter"}
	}

	lines, err := s.snapshots.Snapshot(ctx, companyID, input.ScopeType, input.ScopeFilter)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptySnapshot
	}

	status := models.StatusDraft
	if input.ScheduledStart != nil {
		status = models.StatusScheduled
	}

	counting := &models.Counting{
		CompanyID:            companyID,
		Code:                 fmt.Sprintf("CNT-%s", uuid.New().String()[:8]),
		ScopeType:            input.ScopeType,
		ScopeFilter:          input.ScopeFilter,
		Mode:                 models.ModeBlind,
		Counter1ID:           input.Counter1ID,
		Counter2ID:           input.Counter2ID,
		Counter3ID:           input.Counter3ID,
		RequiresPhase2:       input.RequiresPhase2,
		RequiresPhase3:       input.RequiresPhase3,
		AllowUnexpectedItems: input.AllowUnexpectedItems,
		ScheduledStart:       input.ScheduledStart,
		ScheduledEnd:         input.ScheduledEnd,
		Instructions:         input.Instructions,
		Status:               status,
	}

	for _, line := range lines {
		counting.Items = append(counting.Items, models.CountingItem{
			ProductID:        line.ProductID,
			LocationID:       line.LocationID,
			TheoreticalQty:   line.Quantity,
			ResolutionMethod: models.ResolutionPending,
		})
	}

	counting.Assignments = append(counting.Assignments, models.CountAssignment{
		PhaseNumber: 1,
		CounterID:   input.Counter1ID,
		TotalItems:  len(lines),
		Status:      models.AssignmentPending,
		Deadline:    input.Phase1Deadline,
	})
	if input.RequiresPhase2 {
		counting.Assignments = append(counting.Assignments, models.CountAssignment{
			PhaseNumber: 2,
			CounterID:   input.Counter2ID,
			TotalItems:  len(lines),
			Status:      models.AssignmentPending,
			Deadline:    input.Phase2Deadline,
		})
	}
	if input.RequiresPhase3 {
		// The third count covers only disputed items; its workload is sized
		// by TriggerThirdCount, not at creation.
		counting.Assignments = append(counting.Assignments, models.CountAssignment{
			PhaseNumber: 3,
			CounterID:   input.Counter3ID,
			TotalItems:  0,
			Status:      models.AssignmentPending,
			Deadline:    input.Phase3Deadline,
		})
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		if err := txRepo.CreateCounting(ctx, counting); err != nil {
			return errors.Wrap(err, "failed to create counting")
		}
		payload, err := json.Marshal(map[string]interface{}{
			"code":       counting.Code,
			"scope_type": counting.ScopeType,
			"item_count": len(counting.Items),
			"phase2":     counting.RequiresPhase2,
			"phase3":     counting.RequiresPhase3,
		})
		if err != nil {
			return errors.Wrap(err, "failed to marshal event payload")
		}
		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			EventType:  models.CountingCreated,
			EventData:  payload,
			ActorID:    actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"counting_id": counting.ID,
		"code":        counting.Code,
		"items":       len(counting.Items),
	}).Info("Counting created")

	return counting, nil
}

// Activate moves a draft or scheduled counting into its first count phase
func (s *countingService) Activate(ctx context.Context, countingID uint) (*models.Counting, error) {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var counting *models.Counting
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		counting, err = txRepo.FindCountingForUpdate(ctx, countingID)
		if err != nil {
			return err
		}

		if err := transition(counting, models.StatusPhase1InProgress); err != nil {
			return err
		}
		now := time.Now().UTC()
		counting.ActivatedAt = &now

		assignment := counting.AssignmentForPhase(1)
		if assignment == nil {
			return errors.New("counting has no phase-1 assignment")
		}
		assignment.Start(now)

		if err := txRepo.SaveCounting(ctx, counting); err != nil {
			return errors.Wrap(err, "failed to save counting")
		}
		if err := txRepo.SaveAssignment(ctx, assignment); err != nil {
			return errors.Wrap(err, "failed to save assignment")
		}

		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			EventType:  models.CountingActivated,
			EventData:  mustJSON(map[string]interface{}{"status": counting.Status}),
			ActorID:    actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAdminView(ctx, countingID)
	return counting, nil
}

// SubmitCountInput carries one counter's quantity for one item and phase
type SubmitCountInput struct {
	CountingID uint    `json:"-"`
	ItemID     uint    `json:"-"`
	Phase      int     `json:"phase"`
	Quantity   float64 `json:"quantity"`
	Notes      string  `json:"notes"`
}

// SubmitCount records a counter's quantity for an item. When the submission
// is the phase's last, the phase completes synchronously in the same
// transaction: the counting advances to the next configured phase or to
// pending review, where the reconciliation engine adjudicates every item
// still pending.
func (s *countingService) SubmitCount(ctx context.Context, input SubmitCountInput) (*models.CountingItem, error) {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if input.Phase < 1 || input.Phase > 3 {
		return nil, ErrInvalidPhase
	}

	var item *models.CountingItem
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		counting, err := txRepo.FindCountingForUpdate(ctx, input.CountingID)
		if err != nil {
			return err
		}

		if counting.Status != models.InProgressStatusForPhase(input.Phase) {
			return ErrPhaseNotActive
		}
		counter, err := counting.CounterForPhase(input.Phase)
		if err != nil {
			return ErrInvalidPhase
		}
		if counter != actorID {
			return ErrNotAssignedCounter
		}

		item = findItem(counting, input.ItemID)
		if item == nil {
			return ErrItemNotInCounting
		}
		// The third count covers exactly the subset named by TriggerThirdCount;
		// membership is the reset marker it stamps on each item.
		if input.Phase == 3 &&
			(item.ResolutionMethod != models.ResolutionPending ||
				item.FlagReason != reconcile.FlagThirdCountRequested) {
			return ErrItemNotDisputed
		}
		if item.PhaseCount(input.Phase) != nil {
			return ErrCountAlreadySubmitted
		}

		now := time.Now().UTC()
		if err := item.SetPhaseCount(input.Phase, input.Quantity, input.Notes, now); err != nil {
			return err
		}
		if err := txRepo.SaveItem(ctx, item); err != nil {
			return errors.Wrap(err, "failed to save item")
		}

		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			ItemID:     &item.ID,
			EventType:  models.CountSubmitted,
			EventData: mustJSON(models.CountSubmittedData{
				ProductID:  item.ProductID,
				LocationID: item.LocationID,
				Phase:      input.Phase,
				Quantity:   input.Quantity,
				Notes:      input.Notes,
			}),
			ActorID: actorID,
		})
		if err != nil {
			return err
		}

		assignment := counting.AssignmentForPhase(input.Phase)
		if assignment == nil {
			return errors.Errorf("counting has no phase-%d assignment", input.Phase)
		}
		assignment.CountedItems++
		if err := txRepo.SaveAssignment(ctx, assignment); err != nil {
			return errors.Wrap(err, "failed to save assignment")
		}

		if assignment.CountedItems >= assignment.TotalItems {
			return s.completePhase(ctx, txRepo, counting, assignment, actorID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAdminView(ctx, input.CountingID)
	return item, nil
}

// completePhase runs inside the submitting transaction, so two simultaneous
// last-item submissions cannot both observe a completed phase.
func (s *countingService) completePhase(
	ctx context.Context,
	txRepo repository.Repository,
	counting *models.Counting,
	assignment *models.CountAssignment,
	actorID string,
	now time.Time,
) error {
	assignment.Complete(now)
	if err := txRepo.SaveAssignment(ctx, assignment); err != nil {
		return errors.Wrap(err, "failed to save assignment")
	}

	phase := assignment.PhaseNumber
	if err := transition(counting, models.CompletedStatusForPhase(phase)); err != nil {
		return err
	}

	// Phase 2 is the only phase entered automatically; the third count is a
	// review decision made through TriggerThirdCount.
	next := 0
	if phase == 1 && counting.HasPhase(2) {
		next = 2
	}

	if next != 0 {
		if err := transition(counting, models.InProgressStatusForPhase(next)); err != nil {
			return err
		}
		nextAssignment := counting.AssignmentForPhase(next)
		if nextAssignment == nil {
			return errors.Errorf("counting has no phase-%d assignment", next)
		}
		nextAssignment.Start(now)
		if err := txRepo.SaveAssignment(ctx, nextAssignment); err != nil {
			return errors.Wrap(err, "failed to save assignment")
		}
	} else {
		if err := transition(counting, models.StatusPendingReview); err != nil {
			return err
		}
	}

	if err := txRepo.SaveCounting(ctx, counting); err != nil {
		return errors.Wrap(err, "failed to save counting")
	}

	_, err := s.events.Append(ctx, txRepo, eventlog.Entry{
		CountingID: counting.ID,
		EventType:  models.PhaseCompleted,
		EventData: mustJSON(models.PhaseCompletedData{
			Phase:      phase,
			TotalItems: assignment.TotalItems,
			NextPhase:  next,
		}),
		ActorID: actorID,
	})
	if err != nil {
		return err
	}

	if counting.Status == models.StatusPendingReview {
		return s.resolvePendingItems(ctx, txRepo, counting, now)
	}
	return nil
}

// resolvePendingItems invokes the reconciliation engine over every item still
// pending. The engine never touches items already resolved, so invoking it
// again after a third count is safe.
func (s *countingService) resolvePendingItems(
	ctx context.Context,
	txRepo repository.Repository,
	counting *models.Counting,
	now time.Time,
) error {
	for i := range counting.Items {
		item := &counting.Items[i]
		if item.ResolutionMethod != models.ResolutionPending {
			continue
		}
		// Unexpected items added mid-counting only hold counts from the
		// phases that ran after they appeared; adjudicate whatever counts
		// exist, in phase order.
		var counts []float64
		for phase := 1; phase <= 3; phase++ {
			if qty := item.PhaseCount(phase); qty != nil {
				counts = append(counts, *qty)
			}
		}
		if len(counts) == 0 {
			if !item.IsFlagged {
				item.IsFlagged = true
				item.FlagReason = reconcile.FlagNoCountsSubmitted
				if err := txRepo.SaveItem(ctx, item); err != nil {
					return errors.Wrap(err, "failed to save item")
				}
			}
			continue
		}

		in := reconcile.Input{
			Count1:      counts[0],
			Theoretical: item.TheoreticalQty,
		}
		if len(counts) > 1 {
			in.Count2 = &counts[1]
		}
		if len(counts) > 2 {
			in.Count3 = &counts[2]
		}
		outcome := reconcile.Resolve(in)

		item.IsFlagged = outcome.Flagged
		item.FlagReason = outcome.FlagReason

		if outcome.Resolved {
			item.FinalQty = outcome.FinalQty
			item.ResolutionMethod = outcome.Method
			item.ResolvedBy = "system"
			item.ResolvedAt = &now
		}

		if err := txRepo.SaveItem(ctx, item); err != nil {
			return errors.Wrap(err, "failed to save item")
		}

		if outcome.Resolved {
			_, err := s.events.Append(ctx, txRepo, eventlog.Entry{
				CountingID: counting.ID,
				ItemID:     &item.ID,
				EventType:  models.ItemAutoResolved,
				EventData: mustJSON(models.ItemAutoResolvedData{
					ProductID:        item.ProductID,
					LocationID:       item.LocationID,
					ResolutionMethod: item.ResolutionMethod,
					FinalQty:         *item.FinalQty,
					TheoreticalQty:   item.TheoreticalQty,
					Flagged:          item.IsFlagged,
					FlagReason:       item.FlagReason,
				}),
				ActorID: "system",
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// AddUnexpectedItemInput describes an item found on the floor but absent from
// the frozen snapshot
type AddUnexpectedItemInput struct {
	CountingID uint   `json:"-"`
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
}

// AddUnexpectedItem appends an item that was discovered during counting. The
// item carries a zero theoretical quantity and widens every non-completed
// full-scope assignment by one.
func (s *countingService) AddUnexpectedItem(ctx context.Context, input AddUnexpectedItemInput) (*models.CountingItem, error) {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var item *models.CountingItem
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		counting, err := txRepo.FindCountingForUpdate(ctx, input.CountingID)
		if err != nil {
			return err
		}
		if !counting.AllowUnexpectedItems {
			return &ValidationError{Msg: "counting does not allow unexpected items"}
		}
		switch counting.Status {
		case models.StatusPhase1InProgress, models.StatusPhase2InProgress:
		default:
			return ErrPhaseNotActive
		}
		for i := range counting.Items {
			existing := &counting.Items[i]
			if existing.ProductID == input.ProductID && existing.LocationID == input.LocationID {
				return &ValidationError{Msg: "item already exists in this counting"}
			}
		}

		item = &models.CountingItem{
			CountingID:       counting.ID,
			ProductID:        input.ProductID,
			LocationID:       input.LocationID,
			TheoreticalQty:   0,
			ResolutionMethod: models.ResolutionPending,
			IsUnexpectedItem: true,
		}
		if err := txRepo.SaveItem(ctx, item); err != nil {
			return errors.Wrap(err, "failed to save item")
		}

		// The third-count assignment is subset-sized and unaffected.
		for i := range counting.Assignments {
			assignment := &counting.Assignments[i]
			if assignment.PhaseNumber == 3 || assignment.Status == models.AssignmentCompleted {
				continue
			}
			assignment.TotalItems++
			if err := txRepo.SaveAssignment(ctx, assignment); err != nil {
				return errors.Wrap(err, "failed to save assignment")
			}
		}

		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			ItemID:     &item.ID,
			EventType:  models.UnexpectedItemAdded,
			EventData: mustJSON(map[string]interface{}{
				"product_id":  input.ProductID,
				"location_id": input.LocationID,
			}),
			ActorID: actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAdminView(ctx, input.CountingID)
	return item, nil
}

// TriggerThirdCount resets the named items to pending, resizes the phase-3
// assignment to the disputed subset, and starts the third count. It is only
// valid while the counting is pending review.
func (s *countingService) TriggerThirdCount(ctx context.Context, countingID uint, itemIDs []uint) error {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	if len(itemIDs) == 0 {
		return &ValidationError{Msg: "at least one item is required for a third count"}
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		counting, err := txRepo.FindCountingForUpdate(ctx, countingID)
		if err != nil {
			return err
		}
		if counting.Status.IsTerminal() {
			return ErrCountingTerminal
		}
		if !counting.HasPhase(3) {
			return ErrNoPhaseThreeCounter
		}
		// A third count is a review decision; the disputed subset exists only
		// once reconciliation has run.
		if counting.Status != models.StatusPendingReview {
			return &InvalidTransitionError{From: counting.Status, To: models.StatusPhase3InProgress}
		}

		now := time.Now().UTC()
		for _, itemID := range itemIDs {
			item := findItem(counting, itemID)
			if item == nil {
				return ErrItemNotInCounting
			}
			item.ResolutionMethod = models.ResolutionPending
			item.FinalQty = nil
			item.ResolvedBy = ""
			item.ResolvedAt = nil
			item.IsFlagged = true
			item.FlagReason = reconcile.FlagThirdCountRequested
			// Clear any earlier third-count entry so a repeated trigger can
			// accept a fresh submission; the old value stays in the event log.
			item.Count3Qty = nil
			item.Count3At = nil
			item.Count3Notes = ""
			if err := txRepo.SaveItem(ctx, item); err != nil {
				return errors.Wrap(err, "failed to save item")
			}
		}

		assignment := counting.AssignmentForPhase(3)
		if assignment == nil {
			return ErrNoPhaseThreeCounter
		}
		assignment.TotalItems = len(itemIDs)
		assignment.CountedItems = 0

		if err := transition(counting, models.StatusPhase3InProgress); err != nil {
			return err
		}
		assignment.Start(now)
		if err := txRepo.SaveCounting(ctx, counting); err != nil {
			return errors.Wrap(err, "failed to save counting")
		}
		if err := txRepo.SaveAssignment(ctx, assignment); err != nil {
			return errors.Wrap(err, "failed to save assignment")
		}

		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			EventType:  models.ThirdCountTriggered,
			EventData: mustJSON(models.ThirdCountTriggeredData{
				ItemIDs:   itemIDs,
				CounterID: counting.Counter3ID,
			}),
			ActorID: actorID,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.invalidateAdminView(ctx, countingID)
	return nil
}

// OverrideInput carries a supervisor's final quantity for one item
type OverrideInput struct {
	CountingID uint    `json:"-"`
	ItemID     uint    `json:"-"`
	Quantity   float64 `json:"quantity"`
	Notes      string  `json:"notes"`
}

// ManualOverride sets an item's final quantity unconditionally, regardless of
// counting status or prior resolution. The event captures every prior phase
// value and the theoretical quantity for the audit trail.
func (s *countingService) ManualOverride(ctx context.Context, input OverrideInput) (*models.CountingItem, error) {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var item *models.CountingItem
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		counting, err := txRepo.FindCountingForUpdate(ctx, input.CountingID)
		if err != nil {
			return err
		}

		item = findItem(counting, input.ItemID)
		if item == nil {
			return ErrItemNotInCounting
		}

		priorResolution := item.ResolutionMethod
		now := time.Now().UTC()

		item.FinalQty = &input.Quantity
		item.ResolutionMethod = models.ResolutionManualOverride
		item.ResolutionNotes = input.Notes
		item.ResolvedBy = actorID
		item.ResolvedAt = &now
		item.IsFlagged = true
		item.FlagReason = reconcile.FlagManualOverride

		if err := txRepo.SaveItem(ctx, item); err != nil {
			return errors.Wrap(err, "failed to save item")
		}

		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			ItemID:     &item.ID,
			EventType:  models.ItemManuallyOverridden,
			EventData: mustJSON(models.ItemOverriddenData{
				ProductID:       item.ProductID,
				LocationID:      item.LocationID,
				FinalQty:        input.Quantity,
				TheoreticalQty:  item.TheoreticalQty,
				Count1Qty:       item.Count1Qty,
				Count2Qty:       item.Count2Qty,
				Count3Qty:       item.Count3Qty,
				PriorResolution: priorResolution,
				Notes:           input.Notes,
			}),
			ActorID: actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAdminView(ctx, input.CountingID)
	return item, nil
}

// Finalize closes the counting. It fails with the number of unresolved items
// when any item is still pending.
func (s *countingService) Finalize(ctx context.Context, countingID uint) (*models.Counting, error) {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var counting *models.Counting
	var stats models.CountingFinalizedData
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		counting, err = txRepo.FindCountingForUpdate(ctx, countingID)
		if err != nil {
			return err
		}

		pending, err := txRepo.CountPendingItems(ctx, countingID)
		if err != nil {
			return errors.Wrap(err, "failed to count pending items")
		}
		if pending > 0 {
			return &UnresolvedItemsError{Count: pending}
		}

		if err := transition(counting, models.StatusFinalized); err != nil {
			return err
		}
		now := time.Now().UTC()
		counting.FinalizedAt = &now

		stats = summarize(counting)
		if err := txRepo.SaveCounting(ctx, counting); err != nil {
			return errors.Wrap(err, "failed to save counting")
		}

		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			EventType:  models.CountingFinalized,
			EventData:  mustJSON(stats),
			ActorID:    actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAdminView(ctx, countingID)
	s.publish(ctx, messaging.Notification{
		Topic:      messaging.TopicCountingFinalized,
		CountingID: counting.ID,
		CompanyID:  counting.CompanyID,
		Payload:    stats,
		Time:       time.Now().UTC(),
	})

	s.log.WithFields(logrus.Fields{
		"counting_id": counting.ID,
		"code":        counting.Code,
		"flagged":     stats.FlaggedItems,
	}).Info("Counting finalized")

	return counting, nil
}

// Cancel aborts a non-terminal counting and records the reason
func (s *countingService) Cancel(ctx context.Context, countingID uint, reason string) (*models.Counting, error) {
	actorID, err := tenant.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var counting *models.Counting
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		counting, err = txRepo.FindCountingForUpdate(ctx, countingID)
		if err != nil {
			return err
		}
		if counting.Status.IsTerminal() {
			return ErrCountingTerminal
		}
		if err := transition(counting, models.StatusCancelled); err != nil {
			return err
		}
		now := time.Now().UTC()
		counting.CancelledAt = &now
		counting.CancellationReason = reason

		if err := txRepo.SaveCounting(ctx, counting); err != nil {
			return errors.Wrap(err, "failed to save counting")
		}

		_, err = s.events.Append(ctx, txRepo, eventlog.Entry{
			CountingID: counting.ID,
			EventType:  models.CountingCancelled,
			EventData:  mustJSON(models.CountingCancelledData{Reason: reason}),
			ActorID:    actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAdminView(ctx, countingID)
	s.publish(ctx, messaging.Notification{
		Topic:      messaging.TopicCountingCancelled,
		CountingID: counting.ID,
		CompanyID:  counting.CompanyID,
		Payload:    models.CountingCancelledData{Reason: reason},
		Time:       time.Now().UTC(),
	})

	return counting, nil
}

// ListCountings returns the acting company's countings
func (s *countingService) ListCountings(ctx context.Context) ([]*models.Counting, error) {
	companyID, err := tenant.CompanyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCountings(ctx, companyID)
}

// Events returns the full event chain for a counting, oldest first
func (s *countingService) Events(ctx context.Context, countingID uint) ([]models.CountingEvent, error) {
	return s.repo.ListEvents(ctx, countingID)
}

// VerifyChain recomputes the counting's hash chain from genesis
func (s *countingService) VerifyChain(ctx context.Context, countingID uint) error {
	events, err := s.repo.ListEvents(ctx, countingID)
	if err != nil {
		return err
	}
	return eventlog.Verify(events)
}

// summarize computes the finalization statistics over a counting's items
func summarize(counting *models.Counting) models.CountingFinalizedData {
	stats := models.CountingFinalizedData{TotalItems: len(counting.Items)}
	for i := range counting.Items {
		item := &counting.Items[i]
		switch item.ResolutionMethod {
		case models.ResolutionAutoAllMatch, models.ResolutionAutoCountersAgree:
			stats.AutoResolved++
		case models.ResolutionThirdCountDecisive:
			stats.ThirdCountResolved++
		case models.ResolutionManualOverride:
			stats.ManuallyOverridden++
		}
		if item.IsFlagged {
			stats.FlaggedItems++
		}
		variance := item.Variance()
		stats.TotalVariance += variance
		if variance < 0 {
			stats.AbsoluteVariance -= variance
		} else {
			stats.AbsoluteVariance += variance
		}
	}
	return stats
}

// publish sends a best-effort downstream notification. The event log is the
// source of truth; a failed notification is logged, never rolled back.
func (s *countingService) publish(ctx context.Context, n messaging.Notification) {
	if s.msg == nil {
		return
	}
	if err := s.msg.SendMessage(ctx, n, fmt.Sprintf("counting-%d", n.CountingID)); err != nil {
		s.log.WithError(err).WithField("topic", n.Topic).Warn("Failed to publish notification")
	}
}

func (s *countingService) invalidateAdminView(ctx context.Context, countingID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, adminViewKey(countingID)); err != nil && err != cache.Nil {
		s.log.WithError(err).Debug("Failed to invalidate admin view cache")
	}
}

func findItem(counting *models.Counting, itemID uint) *models.CountingItem {
	for i := range counting.Items {
		if counting.Items[i].ID == itemID {
			return &counting.Items[i]
		}
	}
	return nil
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All payload types are marshal-safe structs and maps
		panic(err)
	}
	return data
}
