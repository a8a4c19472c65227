package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	monitoring.SetLogger(nil)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presence.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "source: \"1\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1", cfg.Source)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, DetectorNet, cfg.Detector)
	assert.Equal(t, "yolov3-tiny.weights", cfg.ModelPath)
	assert.Equal(t, "yolov3-tiny.cfg", cfg.ModelConfig)
	assert.Equal(t, TrackerIoU, cfg.Tracker.Algorithm)
	assert.Equal(t, 75, cfg.Tracker.MaxNoMatch)
	assert.Equal(t, presence.DefaultSampleWindow, cfg.FPSSampleWindow)
	assert.True(t, cfg.ReappearEventsEnabled())
	assert.True(t, cfg.Retention.Policy().Unbounded())
	assert.Equal(t, "snappy", cfg.Kafka.CompressionType)
	assert.Equal(t, "all", cfg.Kafka.Acks)
	assert.Equal(t, 10, cfg.Kafka.LingerMS)
	assert.Equal(t, 16384, cfg.Kafka.BatchSize)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Headless)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
detector: motion
replay_csv: tracks.csv
replay_fps: 25
classes: [person, car]
malformed_policy: permissive
reappear_events: false
fps_sample_window: 10
retention:
  max_age: 90s
  max_records: 500
  sweep_schedule: "@every 30s"
tracker:
  algorithm: bytetrack
  max_no_match: 30
kafka:
  bootstrap_servers: localhost:9092
  topic: gate-events
sqlite_path: presence.db
headless: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DetectorMotion, cfg.Detector)
	assert.Equal(t, "tracks.csv", cfg.ReplayCSV)
	assert.Equal(t, 25.0, cfg.ReplayFPS)
	assert.Equal(t, []string{"person", "car"}, cfg.Classes)
	assert.False(t, cfg.ReappearEventsEnabled())
	assert.Equal(t, presence.RetentionPolicy{MaxAge: 90 * time.Second, MaxRecords: 500}, cfg.Retention.Policy())
	assert.Equal(t, TrackerByteTrack, cfg.Tracker.Algorithm)
	assert.Equal(t, 30, cfg.Tracker.MaxNoMatch)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, "gate-events", cfg.Kafka.Topic)
	assert.True(t, cfg.Headless)

	schedule, err := cfg.Retention.Schedule()
	require.NoError(t, err)
	from := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(30*time.Second), schedule.Next(from))

	options, err := cfg.PresenceOptions()
	require.NoError(t, err)
	manager := presence.NewManager(presence.ClassTable(cfg.Classes), from, options...)
	assert.Equal(t, 500, manager.Store().Policy().MaxRecords)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "confidence_threshold: 0.3\ntracker:\n  algorithm: bytetrack\n")
	t.Setenv("PRESENCE_CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("PRESENCE_TRACKER", "iou")
	t.Setenv("PRESENCE_CLASSES", "person, bicycle ,car")
	t.Setenv("PRESENCE_RETENTION_MAX_AGE", "5m")
	t.Setenv("PRESENCE_REAPPEAR_EVENTS", "false")
	t.Setenv("PRESENCE_HEADLESS", "true")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "broker:9092")
	t.Setenv("KAFKA_BATCH_SIZE", "1024")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, TrackerIoU, cfg.Tracker.Algorithm)
	assert.Equal(t, []string{"person", "bicycle", "car"}, cfg.Classes)
	assert.Equal(t, 5*time.Minute, cfg.Retention.MaxAge)
	assert.False(t, cfg.ReappearEventsEnabled())
	assert.True(t, cfg.Headless)
	assert.Equal(t, "broker:9092", cfg.Kafka.BootstrapServers)
	assert.Equal(t, 1024, cfg.Kafka.BatchSize)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "source: rtsp://camera/stream\n")
	t.Setenv("PRESENCE_CONFIG", path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "rtsp://camera/stream", cfg.Source)

	t.Setenv("PRESENCE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load("")
	require.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":          "retention: [",
		"bad threshold":     "confidence_threshold: 1.5",
		"bad detector":      "detector: lidar",
		"bad tracker":       "tracker:\n  algorithm: sort",
		"bad schedule":      "retention:\n  sweep_schedule: every now and then",
		"bad policy":        "malformed_policy: lenient",
		"negative max age":  "retention:\n  max_age: -1s",
		"replay no classes": "replay_csv: tracks.csv",
		"bad thresholds":    "tracker:\n  high_threshold: 0.2\n  low_threshold: 0.4",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	t.Run("bad env", func(t *testing.T) {
		t.Setenv("PRESENCE_RETENTION_MAX_RECORDS", "many")
		_, err := Load(writeConfig(t, "source: \"0\""))
		assert.Error(t, err)
	})
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
