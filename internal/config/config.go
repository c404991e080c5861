// Package config collects process configuration from the environment.
// Loaded once in main and injected by reference; nothing here is a
// singleton.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hybridaudio/stemforge/internal/stem"
)

// Config is the full runtime configuration.
type Config struct {
	Port string

	// Directory layout. The category-based hierarchy under StemsDir is a
	// compatibility contract and must never be renamed retroactively.
	BaseDir   string
	StemsDir  string
	OutputDir string
	DataDir   string
	IndexPath string

	// Canonical audio contract.
	SampleRate int
	BitDepth   int
	Channels   int
	Container  string
	Encoding   string

	// Merge behaviour.
	DefaultCrossfadeMS float64
	TailFadeMS         int
	ClipRunLimit       int

	// Synthesis backend.
	SynthBackend    string // "cartesia" or "openai"
	CartesiaURL     string
	CartesiaAPIKey  string
	CartesiaVersion string
	ModelID         string
	VoiceID         string
	OpenAIAPIKey    string

	// Remote object store (S3-compatible).
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// Concurrency and retry.
	MaxConcurrentBuilds int
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration

	// Optional background audit.
	AuditInterval time.Duration
}

// Load reads .env (when present) and the environment.
func Load() *Config {
	_ = godotenv.Load()

	base := getenv("BASE_DIR", ".")
	cfg := &Config{
		Port: getenv("PORT", "8080"),

		BaseDir:   base,
		StemsDir:  getenv("STEMS_DIR", filepath.Join(base, "stems")),
		OutputDir: getenv("OUTPUT_DIR", filepath.Join(base, "output")),
		DataDir:   getenv("DATA_DIR", filepath.Join(base, "data")),
		IndexPath: getenv("STEMS_INDEX_FILE", filepath.Join(base, "stems_index.json")),

		SampleRate: getint("SAMPLE_RATE", 48000),
		BitDepth:   16,
		Channels:   1,
		Container:  "wav",
		Encoding:   "pcm_s16le",

		DefaultCrossfadeMS: float64(getint("CROSSFADE_MS", 10)),
		TailFadeMS:         getint("TAIL_FADE_MS", 5),
		ClipRunLimit:       getint("CLIP_RUN_LIMIT", 4),

		SynthBackend:    getenv("SYNTH_BACKEND", "cartesia"),
		CartesiaURL:     getenv("CARTESIA_TTS_URL", "https://api.cartesia.ai/tts/bytes"),
		CartesiaAPIKey:  os.Getenv("CARTESIA_API_KEY"),
		CartesiaVersion: getenv("CARTESIA_VERSION", "2025-04-16"),
		ModelID:         getenv("MODEL_ID", "sonic-3"),
		VoiceID:         os.Getenv("VOICE_ID"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    os.Getenv("S3_REGION"),
		S3UseSSL:    getenv("S3_USE_SSL", "true") == "true",

		MaxConcurrentBuilds: getint("MAX_CONCURRENT_BUILDS", 4),
		RetryMaxAttempts:    getint("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:      getduration("RETRY_BASE_DELAY", 500*time.Millisecond),

		AuditInterval: getduration("AUDIT_INTERVAL", 0),
	}
	return cfg
}

// Contract derives the current audio/format contract.
func (c *Config) Contract() stem.Contract {
	return stem.Contract{
		ModelID:        c.ModelID,
		Container:      c.Container,
		Encoding:       c.Encoding,
		SampleRate:     c.SampleRate,
		BitDepth:       c.BitDepth,
		Channels:       c.Channels,
		BackendVersion: c.CartesiaVersion,
	}
}

// RemoteEnabled reports whether an object store is configured.
func (c *Config) RemoteEnabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// StemPath is the local path for a fragment identifier, mirroring the
// remote key hierarchy.
func (c *Config) StemPath(id string) string {
	cat, _, ok := stem.ParseID(id)
	if !ok {
		return filepath.Join(c.StemsDir, stem.Filename(id))
	}
	return filepath.Join(c.StemsDir, string(cat), stem.Filename(id))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
