// Package config loads daemon configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the full configuration surface of the daemon.
type Config struct {
	AppEnv   string `validate:"required"`
	LogLevel string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogDir   string

	// Model
	ModelPath      string `validate:"required"`
	LabelsPath     string
	RuntimeLibPath string
	Runtime        string  `validate:"oneof=onnxruntime opencv"`
	Backend        string  `validate:"oneof=accelerated portable mock"`
	InputWidth     int     `validate:"gt=0,lte=4096"`
	InputHeight    int     `validate:"gt=0,lte=4096"`
	TensorLayout   string  `validate:"oneof=nhwc nchw"`
	Threshold      float64 `validate:"gt=0,lte=1"`
	ApplySoftmax   bool
	InferThreads   int `validate:"gte=0"`

	// Detection service
	Strategy          string  `validate:"oneof=local remote"`
	RemoteURL         string  `validate:"required_if=Strategy remote,omitempty,url"`
	RemoteRateLimit   float64 `validate:"gt=0"`
	RemoteJPEGQuality int     `validate:"gte=1,lte=100"`
	MockLabel         string  `validate:"required"`

	// Scheduler
	DetectionInterval time.Duration `validate:"gt=0"`
	DetectionTimeout  time.Duration `validate:"gt=0"`
	MaxSpawnsPerCycle int           `validate:"gte=1"`

	// Spawn policy
	MaxActiveSpawns int     `validate:"gte=0"`
	SpawnDistance   float64 `validate:"gt=0"`
	ViewportWidth   int     `validate:"gt=0"`
	ViewportHeight  int     `validate:"gt=0"`
	CameraFOV       float64 `validate:"gt=0,lt=180"`

	// Camera
	CameraDir string

	// Transport
	HTTPAddr      string `validate:"required"`
	RedisAddress  string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
	RedisChannel  string
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		AppEnv:            "development",
		LogLevel:          "info",
		LogDir:            "./storage/logs",
		ModelPath:         "models/waste_classifier.onnx",
		Runtime:           "onnxruntime",
		Backend:           "accelerated",
		InputWidth:        224,
		InputHeight:       224,
		TensorLayout:      "nhwc",
		Threshold:         0.6,
		Strategy:          "local",
		RemoteRateLimit:   1,
		RemoteJPEGQuality: 85,
		MockLabel:         "plastic_bottle",
		DetectionInterval: 2 * time.Second,
		DetectionTimeout:  5 * time.Second,
		MaxSpawnsPerCycle: 3,
		SpawnDistance:     5,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		CameraFOV:         60,
		CameraDir:         "frames",
		HTTPAddr:          "127.0.0.1:8080",
		RedisChannel:      "spawns",
	}
}

// Load reads the given .env files (missing files are skipped), overlays the
// process environment on the defaults and validates the result.
func Load(files ...string) (*Config, error) {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	p := &parser{}

	cfg.AppEnv = p.str("APP_ENV", cfg.AppEnv)
	cfg.LogLevel = strings.ToLower(p.str("LOG_LEVEL", cfg.LogLevel))
	cfg.LogDir = p.str("LOG_DIR", cfg.LogDir)

	cfg.ModelPath = p.str("MODEL_PATH", cfg.ModelPath)
	cfg.LabelsPath = p.str("LABELS_PATH", cfg.LabelsPath)
	cfg.RuntimeLibPath = p.str("ORT_LIB_PATH", cfg.RuntimeLibPath)
	cfg.Runtime = strings.ToLower(p.str("INFERENCE_RUNTIME", cfg.Runtime))
	cfg.Backend = strings.ToLower(p.str("INFERENCE_BACKEND", cfg.Backend))
	cfg.InputWidth = p.int("INPUT_WIDTH", cfg.InputWidth)
	cfg.InputHeight = p.int("INPUT_HEIGHT", cfg.InputHeight)
	cfg.TensorLayout = strings.ToLower(p.str("TENSOR_LAYOUT", cfg.TensorLayout))
	cfg.Threshold = p.float("CONFIDENCE_THRESHOLD", cfg.Threshold)
	cfg.ApplySoftmax = p.bool("APPLY_SOFTMAX", cfg.ApplySoftmax)
	cfg.InferThreads = p.int("INFER_THREADS", cfg.InferThreads)

	cfg.Strategy = strings.ToLower(p.str("DETECTION_STRATEGY", cfg.Strategy))
	cfg.RemoteURL = p.str("REMOTE_URL", cfg.RemoteURL)
	cfg.RemoteRateLimit = p.float("REMOTE_RATE_LIMIT", cfg.RemoteRateLimit)
	cfg.RemoteJPEGQuality = p.int("REMOTE_JPEG_QUALITY", cfg.RemoteJPEGQuality)
	cfg.MockLabel = p.str("MOCK_LABEL", cfg.MockLabel)

	cfg.DetectionInterval = p.duration("DETECTION_INTERVAL", cfg.DetectionInterval)
	cfg.DetectionTimeout = p.duration("DETECTION_TIMEOUT", cfg.DetectionTimeout)
	cfg.MaxSpawnsPerCycle = p.int("MAX_SPAWNS_PER_CYCLE", cfg.MaxSpawnsPerCycle)

	cfg.MaxActiveSpawns = p.int("MAX_ACTIVE_SPAWNS", cfg.MaxActiveSpawns)
	cfg.SpawnDistance = p.float("SPAWN_DISTANCE", cfg.SpawnDistance)
	cfg.ViewportWidth = p.int("VIEWPORT_WIDTH", cfg.ViewportWidth)
	cfg.ViewportHeight = p.int("VIEWPORT_HEIGHT", cfg.ViewportHeight)
	cfg.CameraFOV = p.float("CAMERA_FOV", cfg.CameraFOV)

	cfg.CameraDir = p.str("CAMERA_DIR", cfg.CameraDir)

	cfg.HTTPAddr = p.str("HTTP_ADDR", cfg.HTTPAddr)
	cfg.RedisAddress = p.str("REDIS_ADDRESS", cfg.RedisAddress)
	cfg.RedisPassword = p.str("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = p.int("REDIS_DB", cfg.RedisDB)
	cfg.RedisChannel = p.str("REDIS_CHANNEL", cfg.RedisChannel)

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(p.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := NewValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewValidator returns the validator used for configuration structs.
func NewValidator() *validator.Validate {
	return validator.New()
}

// parser collects conversion errors so every bad key is reported at once.
type parser struct {
	errs []error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

// duration accepts Go duration strings or plain seconds ("2", "0.5").
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return time.Duration(secs * float64(time.Second))
}
