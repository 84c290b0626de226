package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	HTTPAddr string `toml:"http_addr"`
	// GRPCAddr serves the gRPC health service. Empty disables it.
	GRPCAddr string `toml:"grpc_addr"`

	// DB
	Env    string `toml:"env"`     // "dev" | "prod"
	DBPath string `toml:"db_path"` // e.g. "./data/checkpoint.db"

	// Files
	SnapshotPath string `toml:"snapshot_path"`
	CycleLogPath string `toml:"cycle_log_path"`
	FacesDir     string `toml:"faces_dir"`
	LogDir       string `toml:"log_dir"` // empty logs to stdout only

	AdminCardIDs  []string `toml:"admin_card_ids"`
	UnlockOnBreak bool     `toml:"unlock_on_break"`

	// Audit retention
	AuditRetentionDays int `toml:"audit_retention_days"` // 0 = keep forever
	PruneIntervalHours int `toml:"prune_interval_hours"` // how often the pruner runs (default 6)

	// ReportAt is the daily "HH:MM" the threshold report is logged.
	ReportAt string `toml:"report_at"`

	MQTT   MQTT   `toml:"mqtt"`
	Tuning Tuning `toml:"tuning"`
}

// MQTT configures the cloud sink. An empty Broker disables it.
type MQTT struct {
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	Topic       string `toml:"topic"`
	StatusTopic string `toml:"status_topic"`
	Format      string `toml:"format"` // "json" | "protobuf"
}

// Tuning holds the gate's timing and threshold values.
type Tuning struct {
	WakeDistanceCM  float64       `toml:"wake_distance_cm"`
	Dwell           time.Duration `toml:"dwell"`
	Grace           time.Duration `toml:"grace"`
	PresenceBackoff time.Duration `toml:"presence_backoff"`
	DoorPausedPoll  time.Duration `toml:"door_paused_poll"`

	DoorOpen   time.Duration `toml:"door_open"`
	ServoHold  time.Duration `toml:"servo_hold"`
	UnlockDuty float64       `toml:"unlock_duty"`
	LockDuty   float64       `toml:"lock_duty"`

	VerifyTimeout  time.Duration `toml:"verify_timeout"`
	MatchRadius    float64       `toml:"match_radius"`
	BlinkThreshold float64       `toml:"blink_threshold"`
	MaxMisses      int           `toml:"max_misses"`
	FrameInterval  time.Duration `toml:"frame_interval"`

	DeniedDisplay  time.Duration `toml:"denied_display"`
	SuccessDisplay time.Duration `toml:"success_display"`
	AwaitTimeout   time.Duration `toml:"await_timeout"`

	AdminSettle   time.Duration `toml:"admin_settle"`
	AdminTokenTTL time.Duration `toml:"admin_token_ttl"`

	StatusTick     time.Duration `toml:"status_tick"`
	HeartbeatTicks int           `toml:"heartbeat_ticks"`

	EnrollAttempts int           `toml:"enroll_attempts"`
	EnrollInterval time.Duration `toml:"enroll_interval"`

	CaptureInterval time.Duration `toml:"capture_interval"`
	StreamInterval  time.Duration `toml:"stream_interval"`
	StreamWidth     uint          `toml:"stream_width"`
	StreamHeight    uint          `toml:"stream_height"`
	JPEGQuality     int           `toml:"jpeg_quality"`

	AttendanceThreshold string `toml:"attendance_threshold"`
}

func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Env:      "dev",
		DBPath:   "./data/checkpoint.db",

		SnapshotPath: "./data/active_sessions.txt",
		CycleLogPath: "./data/attendance_log.txt",
		FacesDir:     "./data/faces",
		LogDir:       "./logs",

		AuditRetentionDays: 90,
		PruneIntervalHours: 6,
		ReportAt:           "23:55",

		MQTT: MQTT{
			ClientID: "checkpoint",
			Topic:    "checkpoint/attendance",
			Format:   "json",
		},

		Tuning: Tuning{
			WakeDistanceCM:  30,
			Dwell:           10 * time.Second,
			Grace:           5 * time.Second,
			PresenceBackoff: 200 * time.Millisecond,
			DoorPausedPoll:  500 * time.Millisecond,

			DoorOpen:   10 * time.Second,
			ServoHold:  500 * time.Millisecond,
			UnlockDuty: 9.3,
			LockDuty:   4.3,

			VerifyTimeout:  45 * time.Second,
			MatchRadius:    0.65,
			BlinkThreshold: 0.22,
			MaxMisses:      15,
			FrameInterval:  33 * time.Millisecond,

			DeniedDisplay:  2 * time.Second,
			SuccessDisplay: 5 * time.Second,
			AwaitTimeout:   60 * time.Second,

			AdminSettle:   500 * time.Millisecond,
			AdminTokenTTL: 60 * time.Second,

			StatusTick:     100 * time.Millisecond,
			HeartbeatTicks: 20,

			EnrollAttempts: 150,
			EnrollInterval: 50 * time.Millisecond,

			CaptureInterval: 50 * time.Millisecond,
			StreamInterval:  500 * time.Millisecond,
			StreamWidth:     640,
			StreamHeight:    480,
			JPEGQuality:     40,

			AttendanceThreshold: "09:00",
		},
	}
}

// FromEnv returns the defaults overridden by CHECKPOINT_* variables.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load reads the optional TOML file at path over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the loops cannot run with.
func (c Config) Validate() error {
	t := c.Tuning
	switch {
	case t.WakeDistanceCM <= 0:
		return fmt.Errorf("config: wake_distance_cm must be positive")
	case t.DoorOpen <= t.ServoHold:
		return fmt.Errorf("config: door_open must exceed servo_hold")
	case t.MatchRadius <= 0:
		return fmt.Errorf("config: match_radius must be positive")
	case t.JPEGQuality < 1 || t.JPEGQuality > 100:
		return fmt.Errorf("config: jpeg_quality must be 1..100")
	}
	if c.MQTT.Format != "json" && c.MQTT.Format != "protobuf" {
		return fmt.Errorf("config: unknown mqtt format %q", c.MQTT.Format)
	}
	return nil
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenvDefault("CHECKPOINT_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("CHECKPOINT_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}

	c.Env = strings.ToLower(getenvDefault("CHECKPOINT_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.DBPath = getenvDefault("CHECKPOINT_DB_PATH", c.DBPath)

	c.SnapshotPath = getenvDefault("CHECKPOINT_SNAPSHOT_PATH", c.SnapshotPath)
	c.CycleLogPath = getenvDefault("CHECKPOINT_CYCLE_LOG_PATH", c.CycleLogPath)
	c.FacesDir = getenvDefault("CHECKPOINT_FACES_DIR", c.FacesDir)
	if v, ok := os.LookupEnv("CHECKPOINT_LOG_DIR"); ok {
		c.LogDir = strings.TrimSpace(v)
	}

	if cards := splitCSV(os.Getenv("CHECKPOINT_ADMIN_CARD_IDS")); cards != nil {
		c.AdminCardIDs = cards
	}
	c.UnlockOnBreak = getenvBool("CHECKPOINT_UNLOCK_ON_BREAK", c.UnlockOnBreak)

	c.AuditRetentionDays = getenvInt("CHECKPOINT_AUDIT_RETENTION_DAYS", c.AuditRetentionDays)
	c.PruneIntervalHours = getenvInt("CHECKPOINT_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)
	c.ReportAt = getenvDefault("CHECKPOINT_REPORT_AT", c.ReportAt)

	m := &c.MQTT
	m.Broker = getenvDefault("CHECKPOINT_MQTT_BROKER", m.Broker)
	m.ClientID = getenvDefault("CHECKPOINT_MQTT_CLIENT_ID", m.ClientID)
	m.Username = getenvDefault("CHECKPOINT_MQTT_USERNAME", m.Username)
	m.Password = getenvDefault("CHECKPOINT_MQTT_PASSWORD", m.Password)
	m.Topic = getenvDefault("CHECKPOINT_MQTT_TOPIC", m.Topic)
	m.StatusTopic = getenvDefault("CHECKPOINT_MQTT_STATUS_TOPIC", m.StatusTopic)
	m.Format = strings.ToLower(getenvDefault("CHECKPOINT_MQTT_FORMAT", m.Format))

	t := &c.Tuning
	t.WakeDistanceCM = getenvFloat("CHECKPOINT_WAKE_DISTANCE_CM", t.WakeDistanceCM)
	t.Dwell = getenvDuration("CHECKPOINT_DWELL", t.Dwell)
	t.Grace = getenvDuration("CHECKPOINT_GRACE", t.Grace)
	t.DoorOpen = getenvDuration("CHECKPOINT_DOOR_OPEN", t.DoorOpen)
	t.UnlockDuty = getenvFloat("CHECKPOINT_UNLOCK_DUTY", t.UnlockDuty)
	t.LockDuty = getenvFloat("CHECKPOINT_LOCK_DUTY", t.LockDuty)
	t.VerifyTimeout = getenvDuration("CHECKPOINT_VERIFY_TIMEOUT", t.VerifyTimeout)
	t.MatchRadius = getenvFloat("CHECKPOINT_MATCH_RADIUS", t.MatchRadius)
	t.BlinkThreshold = getenvFloat("CHECKPOINT_BLINK_THRESHOLD", t.BlinkThreshold)
	t.AwaitTimeout = getenvDuration("CHECKPOINT_AWAIT_TIMEOUT", t.AwaitTimeout)
	t.AdminTokenTTL = getenvDuration("CHECKPOINT_ADMIN_TOKEN_TTL", t.AdminTokenTTL)
	t.AttendanceThreshold = getenvDefault("CHECKPOINT_ATTENDANCE_THRESHOLD", t.AttendanceThreshold)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

// getenvDuration accepts Go durations ("10s", "500ms").
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
