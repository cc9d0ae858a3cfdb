package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextPause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		elapsed  time.Duration
		failed   bool
		want     time.Duration
	}{
		{
			name:     "success pays down elapsed time",
			interval: 24 * time.Hour,
			elapsed:  20 * time.Hour,
			want:     4 * time.Hour,
		},
		{
			name:     "success with no elapsed time sleeps full interval",
			interval: 6 * time.Hour,
			elapsed:  0,
			want:     6 * time.Hour,
		},
		{
			name:     "run longer than interval restarts immediately",
			interval: 24 * time.Hour,
			elapsed:  30 * time.Hour,
			want:     0,
		},
		{
			name:     "failure uses capped retry pause",
			interval: 24 * time.Hour,
			elapsed:  20 * time.Hour,
			failed:   true,
			want:     maxFailureSleep,
		},
		{
			name:     "failure never waits longer than the interval",
			interval: 5 * time.Minute,
			elapsed:  time.Minute,
			failed:   true,
			want:     5 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, nextPause(tt.interval, tt.elapsed, tt.failed))
		})
	}
}
