package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the staged render loop and persistence debounce.
const (
	DefaultLowestWait  = 60 * time.Millisecond
	DefaultLowWait     = 180 * time.Millisecond
	DefaultSaveDelay   = 350 * time.Millisecond
	DefaultDecodeLimit = 2
)

// Default segmentation model artifact (U2Net, 320x320 input).
const (
	DefaultModelURL      = "https://huggingface.co/CyberTimon/RapidRAW-Models/resolve/main/u2net.onnx?download=true"
	DefaultModelSHA256   = "8d10d2f3bb75ae3b6d527c77944fc5e7dcd94b29809d47a739a7a728a912b491"
	DefaultModelFilename = "u2net.onnx"
)

// Config is the resolved runtime configuration.
type Config struct {
	Home        string // root for projects/ and models/
	ModelDir    string
	ModelURL    string
	ModelSHA256 string
	OrtLibrary  string // path to the onnxruntime shared library
	Debug       bool

	LowestWait  time.Duration
	LowWait     time.Duration
	SaveDelay   time.Duration
	DecodeLimit int
}

// Default returns the configuration used when no environment overrides exist.
func Default() Config {
	home := ".maskedit"
	if dir, err := os.UserConfigDir(); err == nil {
		home = filepath.Join(dir, "maskedit")
	}
	return Config{
		Home:        home,
		ModelDir:    filepath.Join(home, "models"),
		ModelURL:    DefaultModelURL,
		ModelSHA256: DefaultModelSHA256,
		LowestWait:  DefaultLowestWait,
		LowWait:     DefaultLowWait,
		SaveDelay:   DefaultSaveDelay,
		DecodeLimit: DefaultDecodeLimit,
	}
}

// Load reads an optional .env file from the working directory and then
// resolves MASKEDIT_* environment variables on top of Default.
// A missing .env is not an error. Malformed values keep their defaults.
func Load() Config {
	// .env is optional
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv resolves a Config from the given lookup function.
func FromEnv(getenv func(string) string) Config {
	c := Default()
	if v := getenv("MASKEDIT_HOME"); v != "" {
		c.Home = v
		c.ModelDir = filepath.Join(v, "models")
	}
	if v := getenv("MASKEDIT_MODEL_DIR"); v != "" {
		c.ModelDir = v
	}
	if v := getenv("MASKEDIT_MODEL_URL"); v != "" {
		c.ModelURL = v
	}
	if v := getenv("MASKEDIT_MODEL_SHA256"); v != "" {
		c.ModelSHA256 = strings.ToLower(v)
	}
	c.OrtLibrary = getenv("MASKEDIT_ORT_LIB")
	switch strings.ToLower(getenv("MASKEDIT_DEBUG")) {
	case "1", "true", "yes", "on":
		c.Debug = true
	}
	c.LowestWait = durationOr(getenv("MASKEDIT_LOWEST_WAIT"), c.LowestWait)
	c.LowWait = durationOr(getenv("MASKEDIT_LOW_WAIT"), c.LowWait)
	c.SaveDelay = durationOr(getenv("MASKEDIT_SAVE_DELAY"), c.SaveDelay)
	if v := getenv("MASKEDIT_DECODE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.DecodeLimit = n
		}
	}
	return c
}

// ProjectsDir is where project folders and the index live.
func (c Config) ProjectsDir() string {
	return c.Home
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	// bare numbers are milliseconds
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return def
		}
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
