package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDynamicThresholdAdjuster_NeutralBeforeMinSamples(t *testing.T) {
	a := NewDynamicThresholdAdjuster(ThresholdConfig{Window: time.Minute, MinSamples: 5, HighErrorRate: 0.5, LowErrorRate: 0.1})
	a.Record(false)
	a.Record(false)
	assert.Equal(t, 1.0, a.AdjustmentFactor())
}

func TestDynamicThresholdAdjuster_TightensOnHighErrorRate(t *testing.T) {
	a := NewDynamicThresholdAdjuster(ThresholdConfig{Window: time.Minute, MinSamples: 4, HighErrorRate: 0.5, LowErrorRate: 0.1})
	for i := 0; i < 3; i++ {
		a.Record(false)
	}
	a.Record(true)
	assert.Equal(t, 0.9, a.AdjustmentFactor())
}

func TestDynamicThresholdAdjuster_RelaxesOnLowErrorRate(t *testing.T) {
	a := NewDynamicThresholdAdjuster(ThresholdConfig{Window: time.Minute, MinSamples: 4, HighErrorRate: 0.5, LowErrorRate: 0.2})
	for i := 0; i < 9; i++ {
		a.Record(true)
	}
	a.Record(false)
	assert.Equal(t, 1.1, a.AdjustmentFactor())
	assert.InDelta(t, 0.1, a.ErrorRate(), 0.001)
}

func TestDynamicThresholdAdjuster_EvictsStaleSamples(t *testing.T) {
	a := NewDynamicThresholdAdjuster(ThresholdConfig{Window: 10 * time.Millisecond, MinSamples: 1, HighErrorRate: 0.5, LowErrorRate: 0.1})
	a.Record(false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1.0, a.AdjustmentFactor())
	assert.Equal(t, 0.0, a.ErrorRate())
}
