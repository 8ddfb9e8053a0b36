package backpressure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledThresholdsAccept(t *testing.T) {
	// 100% thresholds effectively disable the controller.
	c := NewController(100, 100)
	assert.True(t, c.ShouldAcceptTask())
	assert.NotEqual(t, LevelCritical, c.CheckHealth())
}

func TestZeroThresholdsFallBackToDisabled(t *testing.T) {
	c := NewController(0, 0)
	assert.True(t, c.ShouldAcceptTask())
}

func TestTinyMemoryThresholdRejects(t *testing.T) {
	// Any live system uses more than 0.01% of its memory.
	c := NewController(100, 0.01)
	assert.Equal(t, LevelCritical, c.CheckHealth())
	assert.False(t, c.ShouldAcceptTask())
}

func TestProbeThrottling(t *testing.T) {
	c := NewController(100, 0.01)
	first := c.CheckHealth()

	// Within the probe interval the cached verdict is returned even if the
	// thresholds change underneath.
	c.memThreshold = 100
	assert.Equal(t, first, c.CheckHealth())
}
