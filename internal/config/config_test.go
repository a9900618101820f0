package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sliptacore/internal/blob"
	"sliptacore/internal/core"
	"sliptacore/internal/lifecycle"
	"sliptacore/internal/logging"
)

func TestDefaults(t *testing.T) {
	loaded, err := NewLoader(t.TempDir()).Load("")
	require.NoError(t, err)
	require.Empty(t, loaded.ConfigFileUsed)

	cfg := loaded.Config
	require.Equal(t, logging.LevelInfo, cfg.Log.Level)
	require.Equal(t, logging.FormatStructured, cfg.Log.Format)
	require.Equal(t, core.StorageSQLite, cfg.Storage.Driver)
	require.Equal(t, "sliptacore.db", cfg.Storage.SQLitePath)
	require.Equal(t, blob.DriverFilesystem, cfg.Blob.Driver)
	require.Equal(t, "./evidence", cfg.Blob.FSRoot)
	require.Equal(t, "us-east-1", cfg.Blob.S3.Region)
	require.False(t, cfg.Events.Enabled())
	require.Equal(t, 2*time.Second, cfg.Events.ReconnectWait)
	require.Equal(t, "closure_gate", cfg.Lifecycle.CompletionPolicy)
	require.Equal(t, 45, cfg.Lifecycle.ActionPlanDueDays)
	require.Equal(t, MetricsNone, cfg.Observe.Metrics)
	require.Equal(t, TraceNone, cfg.Observe.Trace)
	require.Len(t, cfg.ServiceOptions(nil), 2)
}

func TestFileAndEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sliptactl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: memory
blob:
  driver: s3
  s3:
    bucket: lab-evidence
    path_style: true
events:
  url: nats://127.0.0.1:4222
  reconnect_wait: 500ms
lifecycle:
  completion_policy: any_response
`), 0o600))

	t.Setenv("SLIPTA_LIFECYCLE_ACTION_PLAN_DUE_DAYS", "30")
	t.Setenv("SLIPTA_LOG_LEVEL", "debug")

	loaded, err := NewLoader(dir).Load("")
	require.NoError(t, err)
	require.Equal(t, path, loaded.ConfigFileUsed)

	cfg := loaded.Config
	require.Equal(t, core.StorageMemory, cfg.Storage.Driver)
	require.Equal(t, blob.DriverS3, cfg.Blob.Driver)
	require.Equal(t, "lab-evidence", cfg.Blob.S3.Bucket)
	require.True(t, cfg.Blob.S3.PathStyle)
	require.True(t, cfg.Events.Enabled())
	require.Equal(t, 500*time.Millisecond, cfg.Events.ReconnectWait)
	require.Equal(t, string(lifecycle.PolicyAnyResponse), cfg.Lifecycle.CompletionPolicy)
	require.Equal(t, 30, cfg.Lifecycle.ActionPlanDueDays)
	require.Equal(t, logging.LevelDebug, cfg.Log.Level)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"SLIPTA_LIFECYCLE_COMPLETION_POLICY":    "whenever",
		"SLIPTA_LIFECYCLE_ACTION_PLAN_DUE_DAYS": "0",
		"SLIPTA_STORAGE_DRIVER":                 "mongo",
		"SLIPTA_BLOB_DRIVER":                    "s3",
		"SLIPTA_OBSERVABILITY_METRICS":          "statsd",
		"SLIPTA_OBSERVABILITY_TRACE":            "zipkin",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := NewLoader(t.TempDir()).Load("")
			require.Error(t, err)
		})
	}

	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("SLIPTA_STORAGE_DRIVER", "postgres")
		_, err := NewLoader(t.TempDir()).Load("")
		require.ErrorContains(t, err, "postgres_dsn")
	})
}

func TestExplicitFileMustParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated"), 0o600))
	_, err := NewLoader().Load(path)
	require.ErrorContains(t, err, "failed to read configuration")
}
