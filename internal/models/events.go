package models

import (
	"time"
)

// EventType constants for the counting event log
const (
	CountingCreated        = "V1_COUNTING_CREATED"
	CountingActivated      = "V1_COUNTING_ACTIVATED"
	CountSubmitted         = "V1_COUNT_SUBMITTED"
	PhaseCompleted         = "V1_PHASE_COMPLETED"
	ItemAutoResolved       = "V1_ITEM_AUTO_RESOLVED"
	ItemManuallyOverridden = "V1_ITEM_MANUALLY_OVERRIDDEN"
	ThirdCountTriggered    = "V1_THIRD_COUNT_TRIGGERED"
	UnexpectedItemAdded    = "V1_UNEXPECTED_ITEM_ADDED"
	CountingFinalized      = "V1_COUNTING_FINALIZED"
	CountingCancelled      = "V1_COUNTING_CANCELLED"
)

// CountingEvent is one append-only, hash-chained record in a counting's audit
// trail. Rows are never updated or deleted; EventHash covers PreviousHash so
// altering any past row invalidates every subsequent hash.
type CountingEvent struct {
	ID           uint      `json:"id" gorm:"primarykey"`
	CountingID   uint      `json:"counting_id" gorm:"Column:counting_id;index"`
	ItemID       *uint     `json:"item_id" gorm:"Column:item_id"`
	EventType    string    `json:"event_type" gorm:"Column:event_type"`
	EventData    []byte    `json:"event_data" gorm:"Column:event_data;type:jsonb"`
	ActorID      string    `json:"actor_id" gorm:"Column:actor_id"`
	CreatedAt    time.Time `json:"created_at" gorm:"Column:created_at"`
	PreviousHash string    `json:"previous_hash" gorm:"Column:previous_hash"`
	EventHash    string    `json:"event_hash" gorm:"Column:event_hash"`
	Processed    bool      `json:"processed" gorm:"Column:processed;index"`
}

// CountSubmittedData is the payload of a CountSubmitted event. The quantity is
// recorded for the audit trail only; counter-facing views never read EventData.
type CountSubmittedData struct {
	ProductID  string  `json:"product_id"`
	LocationID string  `json:"location_id"`
	Phase      int     `json:"phase"`
	Quantity   float64 `json:"quantity"`
	Notes      string  `json:"notes,omitempty"`
}

// PhaseCompletedData is the payload of a PhaseCompleted event
type PhaseCompletedData struct {
	Phase      int `json:"phase"`
	TotalItems int `json:"total_items"`
	NextPhase  int `json:"next_phase,omitempty"`
}

// ItemAutoResolvedData is the payload of an ItemAutoResolved event
type ItemAutoResolvedData struct {
	ProductID        string           `json:"product_id"`
	LocationID       string           `json:"location_id"`
	ResolutionMethod ResolutionMethod `json:"resolution_method"`
	FinalQty         float64          `json:"final_qty"`
	TheoreticalQty   float64          `json:"theoretical_qty"`
	Flagged          bool             `json:"flagged"`
	FlagReason       string           `json:"flag_reason,omitempty"`
}

// ItemOverriddenData is the payload of an ItemManuallyOverridden event. It
// captures every prior phase value and the theoretical quantity so the
// override is fully auditable.
type ItemOverriddenData struct {
	ProductID        string           `json:"product_id"`
	LocationID       string           `json:"location_id"`
	FinalQty         float64          `json:"final_qty"`
	TheoreticalQty   float64          `json:"theoretical_qty"`
	Count1Qty        *float64         `json:"count1_qty"`
	Count2Qty        *float64         `json:"count2_qty"`
	Count3Qty        *float64         `json:"count3_qty"`
	PriorResolution  ResolutionMethod `json:"prior_resolution"`
	Notes            string           `json:"notes,omitempty"`
}

// ThirdCountTriggeredData is the payload of a ThirdCountTriggered event
type ThirdCountTriggeredData struct {
	ItemIDs   []uint `json:"item_ids"`
	CounterID string `json:"counter_id"`
}

// CountingFinalizedData is the payload of a CountingFinalized event
type CountingFinalizedData struct {
	TotalItems         int     `json:"total_items"`
	AutoResolved       int     `json:"auto_resolved"`
	ThirdCountResolved int     `json:"third_count_resolved"`
	ManuallyOverridden int     `json:"manually_overridden"`
	FlaggedItems       int     `json:"flagged_items"`
	TotalVariance      float64 `json:"total_variance"`
	AbsoluteVariance   float64 `json:"absolute_variance"`
}

// CountingCancelledData is the payload of a CountingCancelled event
type CountingCancelledData struct {
	Reason string `json:"reason"`
}
