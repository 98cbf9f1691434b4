package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		scale        OrdinalScale
		previous     string
		next         string
		isTransition bool
		isConcerning bool
	}{
		{
			name:     "no change",
			scale:    ClusterHealthScale,
			previous: HealthStable,
			next:     HealthStable,
		},
		{
			name:         "healthy to critical is concerning",
			scale:        ClusterHealthScale,
			previous:     HealthHealthy,
			next:         HealthCritical,
			isTransition: true,
			isConcerning: true,
		},
		{
			name:         "critical to healthy is improvement",
			scale:        ClusterHealthScale,
			previous:     HealthCritical,
			next:         HealthHealthy,
			isTransition: true,
			isConcerning: false,
		},
		{
			name:         "active to lapsed is concerning",
			scale:        LifecycleScale,
			previous:     StageActive,
			next:         StageLapsed,
			isTransition: true,
			isConcerning: true,
		},
		{
			name:         "new to engaged is improvement",
			scale:        LifecycleScale,
			previous:     StageNew,
			next:         StageEngaged,
			isTransition: true,
			isConcerning: false,
		},
		{
			name:         "adjacent worsening counts",
			scale:        HouseholdEngagementScale,
			previous:     EngagementActive,
			next:         EngagementCooling,
			isTransition: true,
			isConcerning: true,
		},
		{
			name:         "unknown previous state never concerning",
			scale:        ClusterHealthScale,
			previous:     "unset",
			next:         HealthCritical,
			isTransition: true,
			isConcerning: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := DetectTransition(tt.scale, tt.previous, tt.next)
			assert.Equal(t, tt.isTransition, tr.IsTransition, "IsTransition")
			assert.Equal(t, tt.isConcerning, tr.IsConcerning, "IsConcerning")
		})
	}
}

func TestOrdinalScaleWorsened(t *testing.T) {
	t.Parallel()

	scale := NewOrdinalScale("good", "ok", "bad")
	assert.True(t, scale.Worsened("good", "bad"))
	assert.True(t, scale.Worsened("ok", "bad"))
	assert.False(t, scale.Worsened("bad", "good"))
	assert.False(t, scale.Worsened("good", "good"))
	assert.False(t, scale.Worsened("good", "unknown"))
	assert.False(t, scale.Worsened("unknown", "bad"))
}
