package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/stocktake/internal/models"
)

func ptr(v float64) *float64 {
	return &v
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(10, 10))
	require.True(t, Equal(10, 10.00009))
	require.False(t, Equal(10, 10.0002))
	require.True(t, Equal(0, 0.00005))
	require.True(t, Equal(-3.5, -3.5))
}

func TestVarianceBand(t *testing.T) {
	tests := []struct {
		name        string
		value       float64
		theoretical float64
		want        string
	}{
		{"critical at ten percent", 110, 100, FlagCriticalVariance},
		{"critical above ten percent", 50, 100, FlagCriticalVariance},
		{"significant at five percent", 105, 100, FlagSignificantVariance},
		{"significant below ten percent", 109, 100, FlagSignificantVariance},
		{"minor at two percent", 102, 100, FlagMinorVariance},
		{"minor below five percent", 104, 100, FlagMinorVariance},
		{"below minor threshold", 101, 100, FlagVarianceFromTheoretical},
		{"zero theoretical", 5, 0, FlagVarianceFromZeroTheoretical},
		{"negative theoretical uses magnitude", -90, -100, FlagCriticalVariance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, VarianceBand(tt.value, tt.theoretical))
		})
	}
}

func TestResolveSingleCount(t *testing.T) {
	t.Run("matches theoretical", func(t *testing.T) {
		out := Resolve(Input{Count1: 100, Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionAutoAllMatch, out.Method)
		require.Equal(t, 100.0, *out.FinalQty)
		require.False(t, out.Flagged)
	})

	t.Run("differs from theoretical keeps the count", func(t *testing.T) {
		out := Resolve(Input{Count1: 88, Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionAutoCountersAgree, out.Method)
		require.Equal(t, 88.0, *out.FinalQty)
		require.True(t, out.Flagged)
		require.Equal(t, FlagCriticalVariance, out.FlagReason)
	})

	t.Run("zero theoretical variance", func(t *testing.T) {
		out := Resolve(Input{Count1: 3, Theoretical: 0})
		require.True(t, out.Resolved)
		require.True(t, out.Flagged)
		require.Equal(t, FlagVarianceFromZeroTheoretical, out.FlagReason)
	})

	t.Run("within epsilon counts as match", func(t *testing.T) {
		out := Resolve(Input{Count1: 100.00005, Theoretical: 100})
		require.Equal(t, models.ResolutionAutoAllMatch, out.Method)
		require.False(t, out.Flagged)
	})
}

func TestResolveDoubleCount(t *testing.T) {
	t.Run("both match theoretical", func(t *testing.T) {
		out := Resolve(Input{Count1: 100, Count2: ptr(100), Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionAutoAllMatch, out.Method)
		require.Equal(t, 100.0, *out.FinalQty)
		require.False(t, out.Flagged)
	})

	t.Run("counters agree against theoretical", func(t *testing.T) {
		out := Resolve(Input{Count1: 95, Count2: ptr(95), Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionAutoCountersAgree, out.Method)
		require.Equal(t, 95.0, *out.FinalQty)
		require.True(t, out.Flagged)
		require.Equal(t, FlagVarianceFromTheoretical, out.FlagReason)
	})

	t.Run("counters disagree stays pending", func(t *testing.T) {
		out := Resolve(Input{Count1: 95, Count2: ptr(97), Theoretical: 90})
		require.False(t, out.Resolved)
		require.Nil(t, out.FinalQty)
		require.Equal(t, models.ResolutionPending, out.Method)
		require.True(t, out.Flagged)
		require.Equal(t, FlagCounterDisagreement, out.FlagReason)
	})

	t.Run("disagreement where one matches theoretical", func(t *testing.T) {
		out := Resolve(Input{Count1: 100, Count2: ptr(97), Theoretical: 100})
		require.False(t, out.Resolved)
		require.Equal(t, FlagCounterDisagreementOneMatch, out.FlagReason)
	})
}

func TestResolveTripleCount(t *testing.T) {
	t.Run("all three agree with theoretical", func(t *testing.T) {
		out := Resolve(Input{Count1: 100, Count2: ptr(100), Count3: ptr(100), Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionAutoAllMatch, out.Method)
		require.False(t, out.Flagged)
	})

	t.Run("all three agree against theoretical", func(t *testing.T) {
		out := Resolve(Input{Count1: 95, Count2: ptr(95), Count3: ptr(95), Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionThirdCountDecisive, out.Method)
		require.Equal(t, 95.0, *out.FinalQty)
		require.Equal(t, FlagVarianceConfirmedByThird, out.FlagReason)
	})

	t.Run("majority matching theoretical names the dissenter", func(t *testing.T) {
		out := Resolve(Input{Count1: 100, Count2: ptr(97), Count3: ptr(100), Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionThirdCountDecisive, out.Method)
		require.Equal(t, 100.0, *out.FinalQty)
		require.Equal(t, "counter_2_proven_wrong", out.FlagReason)
	})

	t.Run("first counter proven wrong", func(t *testing.T) {
		out := Resolve(Input{Count1: 97, Count2: ptr(100), Count3: ptr(100), Theoretical: 100})
		require.Equal(t, "counter_1_proven_wrong", out.FlagReason)
		require.Equal(t, 100.0, *out.FinalQty)
	})

	t.Run("third counter proven wrong", func(t *testing.T) {
		out := Resolve(Input{Count1: 100, Count2: ptr(100), Count3: ptr(96), Theoretical: 100})
		require.Equal(t, "counter_3_proven_wrong", out.FlagReason)
		require.Equal(t, 100.0, *out.FinalQty)
	})

	t.Run("majority against theoretical confirms variance", func(t *testing.T) {
		out := Resolve(Input{Count1: 95, Count2: ptr(100), Count3: ptr(95), Theoretical: 100})
		require.True(t, out.Resolved)
		require.Equal(t, models.ResolutionThirdCountDecisive, out.Method)
		require.Equal(t, 95.0, *out.FinalQty)
		require.Equal(t, FlagVarianceConfirmedByThird, out.FlagReason)
	})

	t.Run("three distinct values stay pending", func(t *testing.T) {
		out := Resolve(Input{Count1: 95, Count2: ptr(97), Count3: ptr(99), Theoretical: 100})
		require.False(t, out.Resolved)
		require.Nil(t, out.FinalQty)
		require.Equal(t, models.ResolutionPending, out.Method)
		require.Equal(t, FlagNoConsensus, out.FlagReason)
	})
}

// The majority value must not depend on which pair of counters agrees.
func TestMajorityIsOrderIndependent(t *testing.T) {
	perms := []Input{
		{Count1: 95, Count2: ptr(95), Count3: ptr(99), Theoretical: 100},
		{Count1: 95, Count2: ptr(99), Count3: ptr(95), Theoretical: 100},
		{Count1: 99, Count2: ptr(95), Count3: ptr(95), Theoretical: 100},
	}
	for _, in := range perms {
		out := Resolve(in)
		require.True(t, out.Resolved)
		require.Equal(t, 95.0, *out.FinalQty)
		require.Equal(t, models.ResolutionThirdCountDecisive, out.Method)
	}
}
