package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-notifications/internal/domain/notify"
)

func writeEnv(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	env, warnings, err := Parse(writeEnv(t,
		"LOG_LEVEL=debug",
		"JOURNAL_FILE=/tmp/j.bbolt",
	))
	require.NoError(t, err)
	require.Equal(t, "debug", env.LogLevel)
	require.Equal(t, "/tmp/j.bbolt", env.JournalFile)
	require.Equal(t, defaultHistoryFile, env.HistoryFile)
	require.Equal(t, defaultCountersFile, env.CountersFile)
	require.Equal(t, defaultHistoryRPS, env.HistoryRPS)
	require.True(t, env.ConfigWatch)
	require.Equal(t, notify.DefaultSettings(), env.Settings())
	require.NotEmpty(t, warnings)
}

func TestParseInvalidValuesFallBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, env EnvConfig)
	}{
		{"group count above limit", "NOTIFY_MAX_GROUP_COUNT=40", func(t *testing.T, env EnvConfig) {
			require.Equal(t, notify.DefaultMaxGroupCount, env.MaxGroupCount)
		}},
		{"group size below minimum", "NOTIFY_MAX_GROUP_SIZE=0", func(t *testing.T, env EnvConfig) {
			require.Equal(t, notify.DefaultMaxGroupSize, env.MaxGroupSize)
		}},
		{"negative delay", "NOTIFY_CLOUD_DELAY_MS=-5", func(t *testing.T, env EnvConfig) {
			require.Equal(t, 30000, env.CloudDelayMS)
		}},
		{"rps not a number", "HISTORY_RPS=fast", func(t *testing.T, env EnvConfig) {
			require.Equal(t, defaultHistoryRPS, env.HistoryRPS)
		}},
		{"unknown log level", "LOG_LEVEL=verbose", func(t *testing.T, env EnvConfig) {
			require.Equal(t, defaultLogLevel, env.LogLevel)
		}},
		{"bad bool", "CONFIG_WATCH=maybe", func(t *testing.T, env EnvConfig) {
			require.True(t, env.ConfigWatch)
		}},
		{"bad account id", "ACCOUNT_ID=me", func(t *testing.T, env EnvConfig) {
			require.Zero(t, env.AccountID)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env, warnings, err := Parse(writeEnv(t, tt.line))
			require.NoError(t, err)
			tt.check(t, env)

			name, _, _ := strings.Cut(tt.line, "=")
			var found bool
			for _, w := range warnings {
				if strings.Contains(w, name) && !strings.Contains(w, "is not set") {
					found = true
				}
			}
			require.True(t, found, "a warning names %s", name)
		})
	}
}

func TestSettingsMapping(t *testing.T) {
	t.Parallel()

	env, _, err := Parse(writeEnv(t,
		"NOTIFY_MAX_GROUP_COUNT=0",
		"NOTIFY_MAX_GROUP_SIZE=25",
		"NOTIFY_DEFAULT_DELAY_MS=200",
		"NOTIFY_CLOUD_DELAY_MS=1000",
		"NOTIFY_ONLINE_CLOUD_TIMEOUT_MS=60000",
		"ACCOUNT_ID=777",
	))
	require.NoError(t, err)
	require.Equal(t, int64(777), env.AccountID)
	require.Equal(t, notify.Settings{
		MaxGroupCount: 0,
		MaxGroupSize:  25,
		Delays: notify.Delays{
			Default:            200 * time.Millisecond,
			Cloud:              time.Second,
			OnlineCloudTimeout: time.Minute,
		},
	}, env.Settings())
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := Parse(filepath.Join(t.TempDir(), "absent.env"))
	require.ErrorContains(t, err, "failed to read .env")
}
