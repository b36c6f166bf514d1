package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Analyzer   AnalyzerConfig
	Camera     CameraConfig
	RosterHub  RosterHubConfig
	Database   DatabaseConfig
	Roster     RosterConfig
	Server     ServerConfig
	Capture    CaptureConfig
	Thresholds liveness.Thresholds
}

type AnalyzerConfig struct {
	URL string // face analysis sidecar (e.g., http://localhost:9400)
}

type CameraConfig struct {
	URL    string // camera sidecar base URL (e.g., http://localhost:9300)
	Width  int    // defaults to 1280
	Height int    // defaults to 720
	FPS    int    // defaults to 15
}

type RosterHubConfig struct {
	URL      string // central roster service base URL
	Username string
	Password string
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RosterConfig struct {
	DatabaseURL string // MariaDB DSN for the site guard roster (e.g., roster:roster@tcp(mariadb:3306)/roster)
}

type ServerConfig struct {
	Port  int    // defaults to 8080
	Token string // bearer token for the local API; empty disables auth
}

type CaptureConfig struct {
	CooldownMs int // post-capture stream pause, clamped to 300..800 (default 500)
}

// thresholdsFile is the on-disk schema for liveness tuning. Durations are
// plain milliseconds so the file stays editable by hand.
type thresholdsFile struct {
	EyeOpenAbove      float64 `yaml:"eye_open_above"`
	EyeClosedBelow    float64 `yaml:"eye_closed_below"`
	YawLeftBelow      float64 `yaml:"yaw_left_below"`
	YawRightAbove     float64 `yaml:"yaw_right_above"`
	PitchUpAbove      float64 `yaml:"pitch_up_above"`
	PitchDownBelow    float64 `yaml:"pitch_down_below"`
	SmileAbove        float64 `yaml:"smile_above"`
	NeutralSmileMax   float64 `yaml:"neutral_smile_max"`
	NeutralHoldMs     int     `yaml:"neutral_hold_ms"`
	DarkBelow         float64 `yaml:"dark_below"`
	InsufficientBelow float64 `yaml:"insufficient_below"`
	BrightAbove       float64 `yaml:"bright_above"`
}

func (f thresholdsFile) thresholds() liveness.Thresholds {
	return liveness.Thresholds{
		EyeOpenAbove:      f.EyeOpenAbove,
		EyeClosedBelow:    f.EyeClosedBelow,
		YawLeftBelow:      f.YawLeftBelow,
		YawRightAbove:     f.YawRightAbove,
		PitchUpAbove:      f.PitchUpAbove,
		PitchDownBelow:    f.PitchDownBelow,
		SmileAbove:        f.SmileAbove,
		NeutralSmileMax:   f.NeutralSmileMax,
		NeutralHold:       time.Duration(f.NeutralHoldMs) * time.Millisecond,
		DarkBelow:         f.DarkBelow,
		InsufficientBelow: f.InsufficientBelow,
		BrightAbove:       f.BrightAbove,
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// Load builds the configuration from the environment. Liveness thresholds
// come from the embedded defaults, overridable with THRESHOLDS_PATH.
func Load() (*Config, error) {
	var file thresholdsFile
	if err := yaml.Unmarshal(thresholdsYAML, &file); err != nil {
		// Embedded file, should never happen in practice.
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}
	if path := os.Getenv("THRESHOLDS_PATH"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading thresholds file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parsing thresholds file %s: %w", path, err)
		}
	}

	return &Config{
		Analyzer: AnalyzerConfig{
			URL: os.Getenv("ANALYZER_URL"),
		},
		Camera: CameraConfig{
			URL:    os.Getenv("CAMERA_URL"),
			Width:  envInt("CAMERA_WIDTH", 1280),
			Height: envInt("CAMERA_HEIGHT", 720),
			FPS:    envInt("CAMERA_FPS", 15),
		},
		RosterHub: RosterHubConfig{
			URL:      os.Getenv("ROSTERHUB_URL"),
			Username: os.Getenv("ROSTERHUB_USERNAME"),
			Password: os.Getenv("ROSTERHUB_PASSWORD"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Roster: RosterConfig{
			DatabaseURL: os.Getenv("ROSTER_DATABASE_URL"),
		},
		Server: ServerConfig{
			Port:  envInt("SERVER_PORT", 8080),
			Token: os.Getenv("API_TOKEN"),
		},
		Capture: CaptureConfig{
			CooldownMs: envInt("CAPTURE_COOLDOWN_MS", 500),
		},
		Thresholds: file.thresholds(),
	}, nil
}
