package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

// Source names where ticks come from.
const (
	SourceSim    = "sim"
	SourceMQTT   = "mqtt"
	SourceReplay = "replay"
)

type Config struct {
	// HTTP
	HTTPPort string
	DistDir  string

	// Pipeline
	TickInterval   time.Duration
	RoomSize       float64
	Room           string
	HistorySize    int
	ReconnectDelay time.Duration
	Source         string

	// Simulation
	SimProfile    string
	SimAccelModel string
	SimSeed       uint64
	SpikeProb     float64
	FallProb      float64
	EmergencyProb float64
	// FallThreshold of 0 selects the acceleration model's default.
	FallThreshold   float64
	HumidityEnabled bool
	SimTrilaterate  bool

	// MQTT
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	// Redis relay; an empty address disables it
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// Capture
	RecordPath  string
	ReplayPath  string
	ReplaySpeed float64
	ReplayLoop  bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8000"),
		DistDir:         getEnv("DIST_DIR", ""),
		TickInterval:    getEnvDuration("TICK_INTERVAL_MS", 500*time.Millisecond),
		RoomSize:        getEnvFloat("ROOM_SIZE", fusion.DefaultRoomSize),
		Room:            getEnv("ROOM_NAME", fusion.DefaultRoomName),
		HistorySize:     getEnvInt("HISTORY_SIZE", telemetry.DefaultHistorySize),
		ReconnectDelay:  getEnvDuration("RECONNECT_DELAY_MS", 2*time.Second),
		Source:          getEnv("SOURCE", SourceSim),
		SimProfile:      getEnv("SIM_PROFILE", string(telemetry.ProfileSteady)),
		SimAccelModel:   getEnv("SIM_ACCEL_MODEL", string(telemetry.AccelMagnitude)),
		SimSeed:         uint64(getEnvInt("SIM_SEED", 1)),
		SpikeProb:       getEnvFloat("SPIKE_PROB", 0.10),
		FallProb:        getEnvFloat("FALL_PROB", 0.05),
		EmergencyProb:   getEnvFloat("EMERGENCY_PROB", -1),
		FallThreshold:   getEnvFloat("FALL_THRESHOLD", 0),
		HumidityEnabled: getEnvBool("HUMIDITY_ENABLED", false),
		SimTrilaterate:  getEnvBool("SIM_TRILATERATE", false),
		MQTTBroker:      getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "smartcrowd"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopic:       getEnv("MQTT_TOPIC", "smartcrowd/frames"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RedisChannel:    getEnv("REDIS_CHANNEL", "smartcrowd"),
		RecordPath:      getEnv("RECORD_PATH", ""),
		ReplayPath:      getEnv("REPLAY_PATH", ""),
		ReplaySpeed:     getEnvFloat("REPLAY_SPEED", 1),
		ReplayLoop:      getEnvBool("REPLAY_LOOP", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted away.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceSim, SourceMQTT:
	case SourceReplay:
		if c.ReplayPath == "" {
			return errors.New("replay source needs REPLAY_PATH")
		}
	default:
		return errors.Errorf("unknown source %q", c.Source)
	}
	if c.RoomSize <= 0 {
		return errors.Errorf("room size %v must be positive", c.RoomSize)
	}
	if c.HistorySize <= 0 {
		return errors.Errorf("history size %d must be positive", c.HistorySize)
	}
	if c.TickInterval <= 0 {
		return errors.Errorf("tick interval %v must be positive", c.TickInterval)
	}
	if c.ReplaySpeed < 0 {
		return errors.Errorf("replay speed %v must not be negative", c.ReplaySpeed)
	}
	return nil
}

// SimConfig maps the simulation settings onto the simulator.
func (c *Config) SimConfig() telemetry.SimConfig {
	sc := telemetry.DefaultSimConfig()
	sc.Profile = telemetry.Profile(c.SimProfile)
	sc.AccelModel = telemetry.AccelModel(c.SimAccelModel)
	sc.RoomSize = c.RoomSize
	sc.SpikeProb = c.SpikeProb
	sc.FallProb = c.FallProb
	sc.EmergencyProb = c.EmergencyProb
	if sc.EmergencyProb < 0 {
		sc.EmergencyProb = telemetry.DefaultEmergencyProb(sc.Profile)
	}
	sc.Humidity = c.HumidityEnabled
	sc.Trilaterate = c.SimTrilaterate
	sc.Seeds = telemetry.SeedsFrom(c.SimSeed)
	return sc
}

// EffectiveFallThreshold resolves a zero threshold to the model default.
func (c *Config) EffectiveFallThreshold() float64 {
	if c.FallThreshold > 0 {
		return c.FallThreshold
	}
	return telemetry.AccelModel(c.SimAccelModel).FallThreshold()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	ms := getEnvInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
