// Package config loads presence service settings from .env, YAML file and environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
	"github.com/LdDl/mot-presence/sink"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is config file read when no path is given
const DefaultPath = "presence.yaml"

// Detector kinds
const (
	DetectorNet    = "net"
	DetectorMotion = "motion"
)

// Tracker algorithms
const (
	TrackerIoU       = "iou"
	TrackerByteTrack = "bytetrack"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config is the full set of settings of presence binary
type Config struct {
	// Detection model weights and optional network config (Darknet .cfg)
	ModelPath           string  `yaml:"model_path"`
	ModelConfig         string  `yaml:"model_config"`
	ModelInputSize      int     `yaml:"model_input_size"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// Detector is "net" (DNN model) or "motion" (background subtraction)
	Detector      string  `yaml:"detector"`
	MinMotionArea float64 `yaml:"min_motion_area"`

	// Camera index, video file or stream URL
	Source string `yaml:"source"`
	// When set, recorded tracker output is replayed instead of reading video
	ReplayCSV string `yaml:"replay_csv"`
	// Replay frame rate used to derive frame timestamps
	ReplayFPS float64 `yaml:"replay_fps"`

	Classes     []string `yaml:"classes"`
	ClassesFile string   `yaml:"classes_file"`

	Retention       RetentionConfig `yaml:"retention"`
	MalformedPolicy string          `yaml:"malformed_policy"`
	ReappearEvents  *bool           `yaml:"reappear_events"`
	FPSSampleWindow int             `yaml:"fps_sample_window"`

	Tracker TrackerConfig    `yaml:"tracker"`
	Kafka   sink.KafkaConfig `yaml:"kafka"`

	SQLitePath  string `yaml:"sqlite_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	Headless    bool   `yaml:"headless"`
	SessionID   string `yaml:"session_id"`
}

// RetentionConfig bounds presence store
type RetentionConfig struct {
	MaxAge     time.Duration `yaml:"max_age"`
	MaxRecords int           `yaml:"max_records"`
	// Cron expression of between-frames sweep
	SweepSchedule string `yaml:"sweep_schedule"`
}

// Policy converts retention settings
func (c RetentionConfig) Policy() presence.RetentionPolicy {
	return presence.RetentionPolicy{MaxAge: c.MaxAge, MaxRecords: c.MaxRecords}
}

// Schedule parses sweep schedule
func (c RetentionConfig) Schedule() (cron.Schedule, error) {
	schedule, err := cronParser.Parse(c.SweepSchedule)
	return schedule, errors.Wrapf(err, "invalid sweep_schedule '%s'", c.SweepSchedule)
}

// TrackerConfig holds multi-object tracker parameters
type TrackerConfig struct {
	Algorithm    string  `yaml:"algorithm"`
	MaxNoMatch   int     `yaml:"max_no_match"`
	IoUThreshold float64 `yaml:"iou_threshold"`
	// ByteTrack only
	HighThreshold float64 `yaml:"high_threshold"`
	LowThreshold  float64 `yaml:"low_threshold"`
	Greedy        bool    `yaml:"greedy"`
}

// ReappearEventsEnabled returns reappear_events setting, true by default
func (c Config) ReappearEventsEnabled() bool {
	return c.ReappearEvents == nil || *c.ReappearEvents
}

// PresenceOptions converts settings into presence manager options
func (c Config) PresenceOptions() ([]presence.Option, error) {
	policy, err := presence.ParseMalformedPolicy(c.MalformedPolicy)
	if err != nil {
		return nil, err
	}
	return []presence.Option{
		presence.WithRetention(c.Retention.Policy()),
		presence.WithMalformedPolicy(policy),
		presence.WithReappearEvents(c.ReappearEventsEnabled()),
		presence.WithSampleWindow(c.FPSSampleWindow),
	}, nil
}

// Load reads .env (if present), config file and PRESENCE_* / KAFKA_* environment variables.
// Empty path means PRESENCE_CONFIG or DefaultPath; only explicitly requested file must exist.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		monitoring.Logf("config: can't load .env: %v", err)
	}

	var cfg Config
	explicit := path != ""
	if !explicit {
		path = DefaultPath
		if envPath := os.Getenv("PRESENCE_CONFIG"); envPath != "" {
			path = envPath
			explicit = true
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "can't parse %s", path)
		}
		monitoring.Logf("config: loaded %s", path)
	case explicit || !os.IsNotExist(err):
		return cfg, errors.Wrapf(err, "can't read %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	envOverride(&c.ModelPath, "PRESENCE_MODEL_PATH")
	envOverride(&c.ModelConfig, "PRESENCE_MODEL_CONFIG")
	envOverride(&c.Detector, "PRESENCE_DETECTOR")
	envOverride(&c.Source, "PRESENCE_SOURCE")
	envOverride(&c.ReplayCSV, "PRESENCE_REPLAY_CSV")
	envOverride(&c.ClassesFile, "PRESENCE_CLASSES_FILE")
	envOverride(&c.MalformedPolicy, "PRESENCE_MALFORMED_POLICY")
	envOverride(&c.Retention.SweepSchedule, "PRESENCE_SWEEP_SCHEDULE")
	envOverride(&c.Tracker.Algorithm, "PRESENCE_TRACKER")
	envOverride(&c.SQLitePath, "PRESENCE_SQLITE_PATH")
	envOverride(&c.MetricsAddr, "PRESENCE_METRICS_ADDR")
	envOverride(&c.SessionID, "PRESENCE_SESSION_ID")
	if classes := os.Getenv("PRESENCE_CLASSES"); classes != "" {
		c.Classes = nil
		for _, name := range strings.Split(classes, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				c.Classes = append(c.Classes, name)
			}
		}
	}

	envOverride(&c.Kafka.BootstrapServers, "KAFKA_BOOTSTRAP_SERVERS")
	envOverride(&c.Kafka.SecurityProtocol, "KAFKA_SECURITY_PROTOCOL")
	envOverride(&c.Kafka.SASLMechanism, "KAFKA_SASL_MECHANISM")
	envOverride(&c.Kafka.SASLUsername, "KAFKA_SASL_USERNAME")
	envOverride(&c.Kafka.SASLPassword, "KAFKA_SASL_PASSWORD")
	envOverride(&c.Kafka.Topic, "KAFKA_TOPIC")
	envOverride(&c.Kafka.CompressionType, "KAFKA_COMPRESSION_TYPE")
	envOverride(&c.Kafka.Acks, "KAFKA_ACKS")
	envOverride(&c.Kafka.SourceName, "KAFKA_SOURCE_NAME")

	for _, apply := range []func() error{
		func() error { return envOverrideFloat(&c.ConfidenceThreshold, "PRESENCE_CONFIDENCE_THRESHOLD") },
		func() error { return envOverrideFloat(&c.ReplayFPS, "PRESENCE_REPLAY_FPS") },
		func() error { return envOverrideDuration(&c.Retention.MaxAge, "PRESENCE_RETENTION_MAX_AGE") },
		func() error { return envOverrideInt(&c.Retention.MaxRecords, "PRESENCE_RETENTION_MAX_RECORDS") },
		func() error { return envOverrideInt(&c.Tracker.MaxNoMatch, "PRESENCE_TRACKER_MAX_NO_MATCH") },
		func() error { return envOverrideInt(&c.Kafka.LingerMS, "KAFKA_LINGER_MS") },
		func() error { return envOverrideInt(&c.Kafka.BatchSize, "KAFKA_BATCH_SIZE") },
		func() error { return envOverrideInt(&c.Kafka.MaxRetries, "KAFKA_MAX_RETRIES") },
		func() error { return envOverrideBool(&c.Headless, "PRESENCE_HEADLESS") },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	if val := os.Getenv("PRESENCE_REAPPEAR_EVENTS"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return errors.Wrapf(err, "invalid PRESENCE_REAPPEAR_EVENTS '%s'", val)
		}
		c.ReappearEvents = &enabled
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ModelPath == "" {
		c.ModelPath = "yolov3-tiny.weights"
		if c.ModelConfig == "" {
			c.ModelConfig = "yolov3-tiny.cfg"
		}
	}
	if c.ModelInputSize == 0 {
		c.ModelInputSize = 416
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.Detector == "" {
		c.Detector = DetectorNet
	}
	if c.MinMotionArea == 0 {
		c.MinMotionArea = 500
	}
	if c.Source == "" {
		c.Source = "0"
	}
	if c.ReplayFPS == 0 {
		c.ReplayFPS = 30
	}
	if c.Retention.SweepSchedule == "" {
		c.Retention.SweepSchedule = "* * * * *"
	}
	if c.FPSSampleWindow == 0 {
		c.FPSSampleWindow = presence.DefaultSampleWindow
	}
	if c.Tracker.Algorithm == "" {
		c.Tracker.Algorithm = TrackerIoU
	}
	if c.Tracker.MaxNoMatch == 0 {
		c.Tracker.MaxNoMatch = 75
	}
	if c.Tracker.IoUThreshold == 0 {
		c.Tracker.IoUThreshold = 0.1
	}
	if c.Tracker.HighThreshold == 0 {
		c.Tracker.HighThreshold = 0.5
	}
	if c.Tracker.LowThreshold == 0 {
		c.Tracker.LowThreshold = 0.3
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "presence-events"
	}
	if c.Kafka.CompressionType == "" {
		c.Kafka.CompressionType = "snappy"
	}
	if c.Kafka.Acks == "" {
		c.Kafka.Acks = "all"
	}
	if c.Kafka.LingerMS == 0 {
		c.Kafka.LingerMS = 10
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 16384
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}

// Validate checks settings consistency
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("invalid confidence_threshold '%f': must be between 0 and 1", c.ConfidenceThreshold)
	}
	switch c.Detector {
	case DetectorNet, DetectorMotion:
	default:
		return errors.Errorf("detector must be '%s' or '%s', got '%s'", DetectorNet, DetectorMotion, c.Detector)
	}
	switch c.Tracker.Algorithm {
	case TrackerIoU, TrackerByteTrack:
	default:
		return errors.Errorf("tracker.algorithm must be '%s' or '%s', got '%s'", TrackerIoU, TrackerByteTrack, c.Tracker.Algorithm)
	}
	if c.Tracker.MaxNoMatch < 1 {
		return errors.Errorf("invalid tracker.max_no_match '%d': must be >= 1", c.Tracker.MaxNoMatch)
	}
	if c.Tracker.LowThreshold > c.Tracker.HighThreshold {
		return errors.Errorf("tracker.low_threshold '%f' is above tracker.high_threshold '%f'", c.Tracker.LowThreshold, c.Tracker.HighThreshold)
	}
	if c.Retention.MaxAge < 0 {
		return errors.Errorf("invalid retention.max_age '%s': must be >= 0", c.Retention.MaxAge)
	}
	if c.Retention.MaxRecords < 0 {
		return errors.Errorf("invalid retention.max_records '%d': must be >= 0", c.Retention.MaxRecords)
	}
	if _, err := c.Retention.Schedule(); err != nil {
		return err
	}
	if _, err := presence.ParseMalformedPolicy(c.MalformedPolicy); err != nil {
		return err
	}
	if c.FPSSampleWindow < 1 {
		return errors.Errorf("invalid fps_sample_window '%d': must be >= 1", c.FPSSampleWindow)
	}
	if c.ReplayCSV != "" && c.ReplayFPS <= 0 {
		return errors.Errorf("invalid replay_fps '%f': must be > 0", c.ReplayFPS)
	}
	if c.ReplayCSV != "" && len(c.Classes) == 0 && c.ClassesFile == "" {
		return errors.New("replay requires 'classes' or 'classes_file'")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.bootstrap_servers is set")
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", envKey, val)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", envKey, val)
		}
		*field = parsed
	}
	return nil
}

func envOverrideDuration(field *time.Duration, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", envKey, val)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", envKey, val)
		}
		*field = parsed
	}
	return nil
}
