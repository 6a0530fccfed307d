package loopguard_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/loopguard"
)

func TestCheckDepth(t *testing.T) {
	tests := []struct {
		depth    int
		max      int
		exceeded bool
	}{
		{0, 5, false},
		{4, 5, false},
		{5, 5, false},
		{6, 5, true},
		{100, 5, true},
		{1, 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.depth, tt.max), func(t *testing.T) {
			err := loopguard.CheckDepth(tt.depth, tt.max)
			if !tt.exceeded {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, loopguard.IsDepthExceeded(err))
			assert.Contains(t, err.Error(), "chain depth exceeded")
		})
	}
}

func TestCheckDepth_Negative(t *testing.T) {
	err := loopguard.CheckDepth(-1, 5)
	assert.ErrorIs(t, err, loopguard.ErrNegativeDepth)
	assert.False(t, loopguard.IsDepthExceeded(err))
}

// A self-dispatching cascade must be stopped after exactly max+1 hops.
func TestCascadeTerminates(t *testing.T) {
	const max = 5
	depth, hops := 0, 0
	for loopguard.CheckDepth(depth, max) == nil {
		hops++
		depth = loopguard.Next(depth)
		require.Less(t, hops, 100, "cascade did not terminate")
	}
	assert.Equal(t, max+1, hops)
}

func TestIsDepthExceeded_Wrapped(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &loopguard.DepthExceededError{Depth: 6, Max: 5})
	assert.True(t, loopguard.IsDepthExceeded(err))
}
