package flush

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfig_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		duration time.Duration
		dispatch time.Duration
		size     int
	}{
		{
			name:     "seconds",
			body:     "max_buffer_duration: 5\ndispatch_timeout: 10",
			duration: 5 * time.Second,
			dispatch: 10 * time.Second,
			size:     defaultMaxBufferSize,
		},
		{
			name:     "fractional seconds",
			body:     "max_buffer_duration: 1.5",
			duration: 1500 * time.Millisecond,
			dispatch: defaultDispatchTimeout,
			size:     defaultMaxBufferSize,
		},
		{
			name:     "duration strings",
			body:     "max_buffer_duration: 750ms\ndispatch_timeout: 1m",
			duration: 750 * time.Millisecond,
			dispatch: time.Minute,
			size:     defaultMaxBufferSize,
		},
		{
			name:     "absent keys keep defaults",
			body:     "max_buffer_size: 7",
			duration: defaultMaxBufferDuration,
			dispatch: defaultDispatchTimeout,
			size:     7,
		},
		{
			name:     "null keeps default",
			body:     "max_buffer_duration: ~",
			duration: defaultMaxBufferDuration,
			dispatch: defaultDispatchTimeout,
			size:     defaultMaxBufferSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			require.NoError(t, yaml.Unmarshal([]byte(tt.body), &cfg))

			assert.Equal(t, tt.duration, cfg.MaxBufferDuration)
			assert.Equal(t, tt.dispatch, cfg.DispatchTimeout)
			assert.Equal(t, tt.size, cfg.MaxBufferSize)
		})
	}
}

func TestConfig_UnmarshalYAMLClampsSeconds(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte("max_buffer_duration: 60"), &cfg))

	assert.Equal(t, 60*time.Second, cfg.MaxBufferDuration)
	assert.Equal(t, MaxFlushDelay, cfg.FlushDelay())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_UnmarshalYAMLDefaultMetrics(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(
		"default_metrics:\n  duration_counters: false\n  prefix: edge.\n"), &cfg))

	assert.False(t, cfg.DefaultMetrics.DurationCountersEnabled())
	assert.True(t, cfg.DefaultMetrics.InvocationCounterEnabled())
	assert.Equal(t, "edge.", cfg.DefaultMetrics.MetricPrefix())
	assert.Equal(t, defaultMaxBufferDuration, cfg.MaxBufferDuration)
}

func TestConfig_UnmarshalYAMLInvalid(t *testing.T) {
	for _, body := range []string{
		"max_buffer_duration: soon",
		"max_buffer_duration: [1, 2]",
		"dispatch_timeout: later",
	} {
		cfg := DefaultConfig()
		assert.Error(t, yaml.Unmarshal([]byte(body), &cfg), body)
	}
}
