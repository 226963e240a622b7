// Package reconcile adjudicates independently submitted counts against the
// frozen theoretical quantity for a single counting item. It is pure decision
// logic: no storage, no clock, no logging. The lifecycle service invokes it
// when a phase completes and persists whatever it decides.
package reconcile

import (
	"fmt"
	"math"

	"example.com/backstage/services/stocktake/internal/models"
)

// Epsilon is the absolute tolerance for numeric equality between quantities.
// It absorbs floating-point noise from decimal storage; it is not a business
// tolerance.
const Epsilon = 1e-4

// Flag reason classifications attached to flagged items
const (
	FlagVarianceFromTheoretical     = "variance_from_theoretical"
	FlagVarianceFromZeroTheoretical = "variance_from_zero_theoretical"
	FlagMinorVariance               = "minor_variance"
	FlagSignificantVariance         = "significant_variance"
	FlagCriticalVariance            = "critical_variance"
	FlagCounterDisagreement         = "counter_disagreement"
	FlagCounterDisagreementOneMatch = "counter_disagreement_one_matches_theoretical"
	FlagNoConsensus                 = "no_consensus"
	FlagVarianceConfirmedByThird    = "variance_confirmed_by_third_count"
	FlagThirdCountRequested         = "third_count_requested"
	FlagManualOverride              = "manual_override"
	FlagNoCountsSubmitted           = "no_counts_submitted"
)

// Input carries the submitted counts and the frozen theoretical quantity for
// one item. Count2 and Count3 are nil when the corresponding phase was not
// configured or has not produced a value.
type Input struct {
	Count1      float64
	Count2      *float64
	Count3      *float64
	Theoretical float64
}

// Outcome is the engine's decision for one item. Resolved is false when the
// item must remain pending (counter disagreement or no consensus); FinalQty is
// nil in that case.
type Outcome struct {
	Resolved   bool
	FinalQty   *float64
	Method     models.ResolutionMethod
	Flagged    bool
	FlagReason string
}

// Equal reports whether two quantities are equal within Epsilon
func Equal(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// VarianceBand classifies the relative magnitude of a single value's
// divergence from the theoretical quantity
func VarianceBand(value, theoretical float64) string {
	if theoretical == 0 {
		return FlagVarianceFromZeroTheoretical
	}
	ratio := math.Abs(value-theoretical) / math.Abs(theoretical)
	switch {
	case ratio >= 0.10:
		return FlagCriticalVariance
	case ratio >= 0.05:
		return FlagSignificantVariance
	case ratio >= 0.02:
		return FlagMinorVariance
	default:
		return FlagVarianceFromTheoretical
	}
}

// Resolve adjudicates one item. With a single count it compares against the
// theoretical quantity; with two it requires the counters to agree; with three
// it applies a majority vote. Items the engine cannot settle stay pending and
// need a third count or a manual override.
func Resolve(in Input) Outcome {
	if in.Count2 == nil {
		return resolveSingle(in.Count1, in.Theoretical)
	}
	if in.Count3 == nil {
		return resolveDouble(in.Count1, *in.Count2, in.Theoretical)
	}
	return resolveTriple(in.Count1, *in.Count2, *in.Count3, in.Theoretical)
}

func resolveSingle(count, theoretical float64) Outcome {
	if Equal(count, theoretical) {
		return Outcome{
			Resolved: true,
			FinalQty: &count,
			Method:   models.ResolutionAutoAllMatch,
		}
	}
	// Single-counter mode reuses the auto_counters_agree tag for variance
	// parity with the multi-counter path; the flag reason carries the
	// variance band since there is no counter disagreement to report.
	return Outcome{
		Resolved:   true,
		FinalQty:   &count,
		Method:     models.ResolutionAutoCountersAgree,
		Flagged:    true,
		FlagReason: VarianceBand(count, theoretical),
	}
}

func resolveDouble(count1, count2, theoretical float64) Outcome {
	if Equal(count1, theoretical) && Equal(count2, theoretical) {
		return Outcome{
			Resolved: true,
			FinalQty: &theoretical,
			Method:   models.ResolutionAutoAllMatch,
		}
	}
	if Equal(count1, count2) {
		return Outcome{
			Resolved:   true,
			FinalQty:   &count1,
			Method:     models.ResolutionAutoCountersAgree,
			Flagged:    true,
			FlagReason: FlagVarianceFromTheoretical,
		}
	}
	reason := FlagCounterDisagreement
	if Equal(count1, theoretical) != Equal(count2, theoretical) {
		reason = FlagCounterDisagreementOneMatch
	}
	return Outcome{
		Resolved:   false,
		Method:     models.ResolutionPending,
		Flagged:    true,
		FlagReason: reason,
	}
}

func resolveTriple(count1, count2, count3, theoretical float64) Outcome {
	majority, dissenter, ok := majorityVote(count1, count2, count3)
	if !ok {
		return Outcome{
			Resolved:   false,
			Method:     models.ResolutionPending,
			Flagged:    true,
			FlagReason: FlagNoConsensus,
		}
	}
	if dissenter == 0 {
		// All three counts agree. Unanimity that matches the books is a
		// clean match; unanimity against the books is a confirmed variance.
		if Equal(majority, theoretical) {
			return Outcome{
				Resolved: true,
				FinalQty: &majority,
				Method:   models.ResolutionAutoAllMatch,
			}
		}
		return Outcome{
			Resolved:   true,
			FinalQty:   &majority,
			Method:     models.ResolutionThirdCountDecisive,
			Flagged:    true,
			FlagReason: FlagVarianceConfirmedByThird,
		}
	}
	reason := FlagVarianceConfirmedByThird
	if Equal(majority, theoretical) {
		reason = fmt.Sprintf("counter_%d_proven_wrong", dissenter)
	}
	return Outcome{
		Resolved:   true,
		FinalQty:   &majority,
		Method:     models.ResolutionThirdCountDecisive,
		Flagged:    true,
		FlagReason: reason,
	}
}

// majorityVote returns the value shared by at least two of the three counts
// and the position (1-based, first in fixed order 1,2,3) that dissents from
// it. A dissenter of 0 with ok=true means all three agree; ok=false means all
// three differ pairwise and there is no majority.
func majorityVote(count1, count2, count3 float64) (majority float64, dissenter int, ok bool) {
	counts := [3]float64{count1, count2, count3}
	switch {
	case Equal(count1, count2):
		majority = count1
	case Equal(count1, count3):
		majority = count1
	case Equal(count2, count3):
		majority = count2
	default:
		return 0, 0, false
	}
	for pos, c := range counts {
		if !Equal(c, majority) {
			return majority, pos + 1, true
		}
	}
	return majority, 0, true
}
