package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhase_PercentIsMonotonic(t *testing.T) {
	pipeline := []Phase{
		PhaseStarting,
		PhaseRequirements,
		PhaseArchitecture,
		PhaseDesign,
		PhaseImplementation,
		PhaseSecurity,
		PhaseReview,
		PhaseFixing,
		PhaseComplete,
	}

	prev := -1
	for _, p := range pipeline {
		require.Greater(t, p.Percent(), prev, "phase %s", p)
		prev = p.Percent()
	}
	require.Equal(t, 100, PhaseComplete.Percent())
	require.Equal(t, 100, PhaseError.Percent())
	require.Equal(t, 0, Phase("unknown").Percent())
}

func TestPhase_IsTerminal(t *testing.T) {
	require.True(t, PhaseComplete.IsTerminal())
	require.True(t, PhaseError.IsTerminal())
	require.False(t, PhaseReview.IsTerminal())
	require.False(t, PhaseFixing.IsTerminal())
}
