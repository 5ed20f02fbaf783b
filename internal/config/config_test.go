// File: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigFromViper(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, "pilot-cli", cfg.Logger.ServiceName)
	assert.Equal(t, 3, cfg.Loop.MaxRetries)
	assert.Equal(t, 10, cfg.History.Window)
	assert.Equal(t, "file", cfg.MissionLog.Sink)
	assert.Equal(t, "terminal", cfg.Loop.InitialProvider)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "zero retry budget rejected",
			mutate:  func(v *viper.Viper) { v.Set("loop.max_retries", 0) },
			wantErr: "loop.max_retries",
		},
		{
			name:    "zero window rejected",
			mutate:  func(v *viper.Viper) { v.Set("history.window", 0) },
			wantErr: "history.window",
		},
		{
			name:    "unknown mission log sink rejected",
			mutate:  func(v *viper.Viper) { v.Set("mission_log.sink", "s3") },
			wantErr: "mission_log.sink",
		},
		{
			name: "postgres sink requires url",
			mutate: func(v *viper.Viper) {
				v.Set("mission_log.sink", "postgres")
				v.Set("mission_log.postgres_url", "")
			},
			wantErr: "mission_log.postgres_url",
		},
		{
			name:    "invalid ssh port rejected",
			mutate:  func(v *viper.Viper) { v.Set("terminal.port", 70000) },
			wantErr: "terminal.port",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v := newTestViper()
			tc.mutate(v)
			_, err := NewConfigFromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestAPIKeyComesFromEnv(t *testing.T) {
	t.Setenv("PILOT_LLM_API_KEY", "test-key-123")

	cfg, err := NewConfigFromViper(newTestViper())
	require.NoError(t, err)
	assert.Equal(t, "test-key-123", cfg.LLM.APIKey)
}

func TestExpandPaths(t *testing.T) {
	t.Parallel()

	v := newTestViper()
	v.Set("mission_log.path", "~/missions/run.jsonl")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.NotContains(t, cfg.MissionLog.Path, "~", "tilde should be expanded")
	assert.Contains(t, cfg.MissionLog.Path, "missions/run.jsonl")
}
