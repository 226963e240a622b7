package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// ScopeType is an enum describing how a counting's item scope is resolved
type ScopeType string

const (
	// ScopeFullWarehouse counts every stocked product/location pair
	ScopeFullWarehouse ScopeType = "full_warehouse"
	// ScopeLocation restricts the counting to one or more locations
	ScopeLocation ScopeType = "location"
	// ScopeCategory restricts the counting to one or more product categories
	ScopeCategory ScopeType = "category"
	// ScopeCustom counts an explicit product/location list
	ScopeCustom ScopeType = "custom"
)

// CountingMode is an enum for how counters capture quantities
type CountingMode string

const (
	// ModeBlind hides theoretical quantities and peer entries from counters
	ModeBlind CountingMode = "blind"
)

// CountingStatus represents the lifecycle status of a counting
type CountingStatus string

const (
	// StatusDraft represents a counting that has been created but not scheduled or started
	StatusDraft CountingStatus = "draft"
	// StatusScheduled represents a counting waiting for its scheduled window
	StatusScheduled CountingStatus = "scheduled"
	// StatusPhase1InProgress represents an active first count
	StatusPhase1InProgress CountingStatus = "phase1_in_progress"
	// StatusPhase1Completed represents a finished first count
	StatusPhase1Completed CountingStatus = "phase1_completed"
	// StatusPhase2InProgress represents an active second count
	StatusPhase2InProgress CountingStatus = "phase2_in_progress"
	// StatusPhase2Completed represents a finished second count
	StatusPhase2Completed CountingStatus = "phase2_completed"
	// StatusPhase3InProgress represents an active tie-breaking third count
	StatusPhase3InProgress CountingStatus = "phase3_in_progress"
	// StatusPhase3Completed represents a finished third count
	StatusPhase3Completed CountingStatus = "phase3_completed"
	// StatusPendingReview represents a counting awaiting reconciliation review
	StatusPendingReview CountingStatus = "pending_review"
	// StatusFinalized represents a closed counting with every item resolved
	StatusFinalized CountingStatus = "finalized"
	// StatusCancelled represents an aborted counting
	StatusCancelled CountingStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
func (s CountingStatus) IsTerminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// ResolutionMethod represents how an item's final quantity was decided
type ResolutionMethod string

const (
	// ResolutionPending represents an item that still needs adjudication
	ResolutionPending ResolutionMethod = "pending"
	// ResolutionAutoAllMatch represents counts that matched the theoretical quantity
	ResolutionAutoAllMatch ResolutionMethod = "auto_all_match"
	// ResolutionAutoCountersAgree represents counters agreeing with each other but not the books
	ResolutionAutoCountersAgree ResolutionMethod = "auto_counters_agree"
	// ResolutionThirdCountDecisive represents a majority vote settled by a third count
	ResolutionThirdCountDecisive ResolutionMethod = "third_count_decisive"
	// ResolutionManualOverride represents a supervisor-imposed final quantity
	ResolutionManualOverride ResolutionMethod = "manual_override"
)

// AssignmentStatus represents the status of a counter's phase assignment
type AssignmentStatus string

const (
	// AssignmentPending represents an assignment whose phase has not started
	AssignmentPending AssignmentStatus = "pending"
	// AssignmentInProgress represents an assignment currently being counted
	AssignmentInProgress AssignmentStatus = "in_progress"
	// AssignmentCompleted represents an assignment with every item counted
	AssignmentCompleted AssignmentStatus = "completed"
)

// Counting is the aggregate root for one physical inventory stocktake
type Counting struct {
	Model
	CompanyID            uint              `json:"company_id" gorm:"Column:company_id;index"`
	Code                 string            `json:"code" gorm:"uniqueIndex;Column:code"`
	ScopeType            ScopeType         `json:"scope_type" gorm:"Column:scope_type"`
	ScopeFilter          []byte            `json:"scope_filter" gorm:"Column:scope_filter;type:jsonb"`
	Mode                 CountingMode      `json:"mode" gorm:"Column:mode;default:'blind'"`
	Counter1ID           string            `json:"counter1_id" gorm:"Column:counter1_id"`
	Counter2ID           string            `json:"counter2_id" gorm:"Column:counter2_id"`
	Counter3ID           string            `json:"counter3_id" gorm:"Column:counter3_id"`
	RequiresPhase2       bool              `json:"requires_phase2" gorm:"Column:requires_phase2"`
	RequiresPhase3       bool              `json:"requires_phase3" gorm:"Column:requires_phase3"`
	AllowUnexpectedItems bool              `json:"allow_unexpected_items" gorm:"Column:allow_unexpected_items"`
	ScheduledStart       *time.Time        `json:"scheduled_start" gorm:"Column:scheduled_start"`
	ScheduledEnd         *time.Time        `json:"scheduled_end" gorm:"Column:scheduled_end"`
	Instructions         string            `json:"instructions" gorm:"Column:instructions;type:text"`
	Status               CountingStatus    `json:"status" gorm:"Column:status;index"`
	ActivatedAt          *time.Time        `json:"activated_at" gorm:"Column:activated_at"`
	FinalizedAt          *time.Time        `json:"finalized_at" gorm:"Column:finalized_at"`
	CancelledAt          *time.Time        `json:"cancelled_at" gorm:"Column:cancelled_at"`
	CancellationReason   string            `json:"cancellation_reason" gorm:"Column:cancellation_reason"`
	Items                []CountingItem    `json:"items,omitempty" gorm:"foreignKey:CountingID"`
	Assignments          []CountAssignment `json:"assignments,omitempty" gorm:"foreignKey:CountingID"`
}

// CounterForPhase returns the counter identity configured for a phase
func (c *Counting) CounterForPhase(phase int) (string, error) {
	switch phase {
	case 1:
		return c.Counter1ID, nil
	case 2:
		return c.Counter2ID, nil
	case 3:
		return c.Counter3ID, nil
	default:
		return "", fmt.Errorf("invalid phase number: %d", phase)
	}
}

// HasPhase reports whether the given phase is configured for this counting
func (c *Counting) HasPhase(phase int) bool {
	switch phase {
	case 1:
		return true
	case 2:
		return c.RequiresPhase2 && c.Counter2ID != ""
	case 3:
		return c.RequiresPhase3 && c.Counter3ID != ""
	default:
		return false
	}
}

// NextPhaseAfter returns the next configured phase after the given one, or 0 if none
func (c *Counting) NextPhaseAfter(phase int) int {
	for next := phase + 1; next <= 3; next++ {
		if c.HasPhase(next) {
			return next
		}
	}
	return 0
}

// InProgressStatusForPhase maps a phase number to its in-progress status
func InProgressStatusForPhase(phase int) CountingStatus {
	switch phase {
	case 1:
		return StatusPhase1InProgress
	case 2:
		return StatusPhase2InProgress
	default:
		return StatusPhase3InProgress
	}
}

// CompletedStatusForPhase maps a phase number to its completed status
func CompletedStatusForPhase(phase int) CountingStatus {
	switch phase {
	case 1:
		return StatusPhase1Completed
	case 2:
		return StatusPhase2Completed
	default:
		return StatusPhase3Completed
	}
}

// AssignmentForPhase returns the assignment for a phase, or nil if missing
func (c *Counting) AssignmentForPhase(phase int) *CountAssignment {
	for i := range c.Assignments {
		if c.Assignments[i].PhaseNumber == phase {
			return &c.Assignments[i]
		}
	}
	return nil
}

// CountingItem is one product/location line within a counting.
// TheoreticalQty is captured once from the stock snapshot at creation and is
// never written again or exposed to counter-facing views.
type CountingItem struct {
	Model
	CountingID       uint             `json:"counting_id" gorm:"Column:counting_id;index"`
	ProductID        string           `json:"product_id" gorm:"Column:product_id;index"`
	LocationID       string           `json:"location_id" gorm:"Column:location_id;index"`
	TheoreticalQty   float64          `json:"theoretical_qty" gorm:"Column:theoretical_qty"`
	Count1Qty        *float64         `json:"count1_qty" gorm:"Column:count1_qty"`
	Count1At         *time.Time       `json:"count1_at" gorm:"Column:count1_at"`
	Count1Notes      string           `json:"count1_notes" gorm:"Column:count1_notes"`
	Count2Qty        *float64         `json:"count2_qty" gorm:"Column:count2_qty"`
	Count2At         *time.Time       `json:"count2_at" gorm:"Column:count2_at"`
	Count2Notes      string           `json:"count2_notes" gorm:"Column:count2_notes"`
	Count3Qty        *float64         `json:"count3_qty" gorm:"Column:count3_qty"`
	Count3At         *time.Time       `json:"count3_at" gorm:"Column:count3_at"`
	Count3Notes      string           `json:"count3_notes" gorm:"Column:count3_notes"`
	FinalQty         *float64         `json:"final_qty" gorm:"Column:final_qty"`
	ResolutionMethod ResolutionMethod `json:"resolution_method" gorm:"Column:resolution_method;default:'pending'"`
	ResolutionNotes  string           `json:"resolution_notes" gorm:"Column:resolution_notes"`
	ResolvedBy       string           `json:"resolved_by" gorm:"Column:resolved_by"`
	ResolvedAt       *time.Time       `json:"resolved_at" gorm:"Column:resolved_at"`
	IsFlagged        bool             `json:"is_flagged" gorm:"Column:is_flagged;index"`
	FlagReason       string           `json:"flag_reason" gorm:"Column:flag_reason"`
	IsUnexpectedItem bool             `json:"is_unexpected_item" gorm:"Column:is_unexpected_item"`
}

// PhaseCount returns the quantity recorded for a phase, or nil if not counted yet
func (i *CountingItem) PhaseCount(phase int) *float64 {
	switch phase {
	case 1:
		return i.Count1Qty
	case 2:
		return i.Count2Qty
	case 3:
		return i.Count3Qty
	default:
		return nil
	}
}

// PhaseCountedAt returns the timestamp of a phase's count, or nil if not counted yet
func (i *CountingItem) PhaseCountedAt(phase int) *time.Time {
	switch phase {
	case 1:
		return i.Count1At
	case 2:
		return i.Count2At
	case 3:
		return i.Count3At
	default:
		return nil
	}
}

// PhaseNotes returns the notes recorded with a phase's count
func (i *CountingItem) PhaseNotes(phase int) string {
	switch phase {
	case 1:
		return i.Count1Notes
	case 2:
		return i.Count2Notes
	case 3:
		return i.Count3Notes
	default:
		return ""
	}
}

// SetPhaseCount records a phase's quantity, timestamp and notes
func (i *CountingItem) SetPhaseCount(phase int, qty float64, notes string, at time.Time) error {
	switch phase {
	case 1:
		i.Count1Qty, i.Count1At, i.Count1Notes = &qty, &at, notes
	case 2:
		i.Count2Qty, i.Count2At, i.Count2Notes = &qty, &at, notes
	case 3:
		i.Count3Qty, i.Count3At, i.Count3Notes = &qty, &at, notes
	default:
		return fmt.Errorf("invalid phase number: %d", phase)
	}
	return nil
}

// Variance returns final minus theoretical, or 0 when no final quantity is set
func (i *CountingItem) Variance() float64 {
	if i.FinalQty == nil {
		return 0
	}
	return *i.FinalQty - i.TheoreticalQty
}

// CountAssignment tracks one counter's workload for one phase of a counting
type CountAssignment struct {
	Model
	CountingID   uint             `json:"counting_id" gorm:"Column:counting_id;index"`
	PhaseNumber  int              `json:"phase_number" gorm:"Column:phase_number"`
	CounterID    string           `json:"counter_id" gorm:"Column:counter_id;index"`
	TotalItems   int              `json:"total_items" gorm:"Column:total_items"`
	CountedItems int              `json:"counted_items" gorm:"Column:counted_items"`
	Status       AssignmentStatus `json:"status" gorm:"Column:status;default:'pending'"`
	StartedAt    *time.Time       `json:"started_at" gorm:"Column:started_at"`
	CompletedAt  *time.Time       `json:"completed_at" gorm:"Column:completed_at"`
	Deadline     *time.Time       `json:"deadline" gorm:"Column:deadline"`
}

// Progress returns the completed fraction of the assignment as a percentage
func (a *CountAssignment) Progress() float64 {
	if a.TotalItems == 0 {
		return 0
	}
	return float64(a.CountedItems) / float64(a.TotalItems) * 100
}

// IsOverdue reports whether the assignment's deadline has passed without completion
func (a *CountAssignment) IsOverdue(now time.Time) bool {
	if a.Deadline == nil || a.Status == AssignmentCompleted {
		return false
	}
	return now.After(*a.Deadline)
}

// Start marks the assignment as in progress
func (a *CountAssignment) Start(now time.Time) {
	a.Status = AssignmentInProgress
	a.StartedAt = &now
}

// Complete marks the assignment as completed
func (a *CountAssignment) Complete(now time.Time) {
	a.Status = AssignmentCompleted
	a.CompletedAt = &now
}

// StockLevel is the balance table the snapshot provider reads at counting
// creation time. Balance maintenance itself belongs to the inventory service.
type StockLevel struct {
	Model
	CompanyID  uint    `json:"company_id" gorm:"Column:company_id;index"`
	ProductID  string  `json:"product_id" gorm:"Column:product_id;index"`
	LocationID string  `json:"location_id" gorm:"Column:location_id;index"`
	Category   string  `json:"category" gorm:"Column:category;index"`
	Quantity   float64 `json:"quantity" gorm:"Column:quantity"`
}
