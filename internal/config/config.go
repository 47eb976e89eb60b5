// Package config provides configuration management for the clipper.
// Configuration is loaded from an optional YAML file and environment
// variables, with sensible defaults. Environment variables win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".heimdex-clipper"
	DefaultExt      = "mp4"
	DefaultCodec    = "libx264"
	DefaultWorkers  = 2

	// Environment variable names
	EnvConfigFile     = "CLIPPER_CONFIG"
	EnvPort           = "CLIPPER_PORT"
	EnvLogLevel       = "CLIPPER_LOG_LEVEL"
	EnvDataDir        = "CLIPPER_DATA_DIR"
	EnvVideosDir      = "CLIPPER_VIDEOS_DIR"
	EnvAnnotationsDir = "CLIPPER_ANNOTATIONS_DIR"
	EnvClipsDir       = "CLIPPER_CLIPS_DIR"
	EnvExt            = "CLIPPER_EXT"
	EnvCodec          = "CLIPPER_CODEC"
	EnvFFmpeg         = "CLIPPER_FFMPEG"
	EnvFFprobe        = "CLIPPER_FFPROBE"
	EnvWorkers        = "CLIPPER_WORKERS"
	EnvSaveFrames     = "CLIPPER_SAVE_FRAMES"

	// Clip publishing
	EnvCOSBucketURL = "CLIPPER_COS_BUCKET_URL"
	EnvCOSSecretID  = "CLIPPER_COS_SECRET_ID"
	EnvCOSSecretKey = "CLIPPER_COS_SECRET_KEY"
	EnvCOSPrefix    = "CLIPPER_COS_PREFIX"

	// Database filename
	DBFilename = "clipper.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	VideosDir() string
	AnnotationsDir() string
	ClipsDir() string
	Ext() string
	Codec() string
	FFmpegPath() string
	FFprobePath() string
	Workers() int
	SaveFrames() bool
	COS() COSConfig
}

// COSConfig holds the object storage settings. An empty BucketURL disables
// publishing.
type COSConfig struct {
	BucketURL string `yaml:"bucket_url"`
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// fileConfig mirrors the YAML file layout.
type fileConfig struct {
	Port           int       `yaml:"port"`
	LogLevel       string    `yaml:"log_level"`
	DataDir        string    `yaml:"data_dir"`
	VideosDir      string    `yaml:"videos_dir"`
	AnnotationsDir string    `yaml:"annotations_dir"`
	ClipsDir       string    `yaml:"clips_dir"`
	Ext            string    `yaml:"ext"`
	Codec          string    `yaml:"codec"`
	FFmpeg         string    `yaml:"ffmpeg"`
	FFprobe        string    `yaml:"ffprobe"`
	Workers        int       `yaml:"workers"`
	SaveFrames     *bool     `yaml:"save_frames"`
	COS            COSConfig `yaml:"cos"`
}

// EnvConfig reads configuration from the environment and an optional file
type EnvConfig struct {
	port           int
	logLevel       string
	dataDir        string
	videosDir      string
	annotationsDir string
	clipsDir       string
	ext            string
	codec          string
	ffmpeg         string
	ffprobe        string
	workers        int
	saveFrames     bool
	cos            COSConfig
}

// New creates a new EnvConfig with defaults, then applies the file named by
// CLIPPER_CONFIG and finally environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:     DefaultPort,
		logLevel: DefaultLogLevel,
		dataDir:  defaultDataDir(),
		ext:      DefaultExt,
		codec:    DefaultCodec,
		workers:  DefaultWorkers,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		if err := validPort(fc.Port); err != nil {
			return fmt.Errorf("invalid port in %s: %w", path, err)
		}
		c.port = fc.Port
	}
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.videosDir, fc.VideosDir)
	setString(&c.annotationsDir, fc.AnnotationsDir)
	setString(&c.clipsDir, fc.ClipsDir)
	setString(&c.ext, fc.Ext)
	setString(&c.codec, fc.Codec)
	setString(&c.ffmpeg, fc.FFmpeg)
	setString(&c.ffprobe, fc.FFprobe)
	if fc.Workers < 0 {
		return fmt.Errorf("invalid workers in %s: must be positive", path)
	}
	if fc.Workers > 0 {
		c.workers = fc.Workers
	}
	if fc.SaveFrames != nil {
		c.saveFrames = *fc.SaveFrames
	}
	setString(&c.cos.BucketURL, fc.COS.BucketURL)
	setString(&c.cos.SecretID, fc.COS.SecretID)
	setString(&c.cos.SecretKey, fc.COS.SecretKey)
	setString(&c.cos.Prefix, fc.COS.Prefix)
	return nil
}

func (c *EnvConfig) loadEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if err := validPort(port); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if w := os.Getenv(EnvWorkers); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s: must be a positive integer", EnvWorkers)
		}
		c.workers = n
	}

	if sf := os.Getenv(EnvSaveFrames); sf != "" {
		v, err := strconv.ParseBool(sf)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSaveFrames, err)
		}
		c.saveFrames = v
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.videosDir, os.Getenv(EnvVideosDir))
	setString(&c.annotationsDir, os.Getenv(EnvAnnotationsDir))
	setString(&c.clipsDir, os.Getenv(EnvClipsDir))
	setString(&c.ext, os.Getenv(EnvExt))
	setString(&c.codec, os.Getenv(EnvCodec))
	setString(&c.ffmpeg, os.Getenv(EnvFFmpeg))
	setString(&c.ffprobe, os.Getenv(EnvFFprobe))
	setString(&c.cos.BucketURL, os.Getenv(EnvCOSBucketURL))
	setString(&c.cos.SecretID, os.Getenv(EnvCOSSecretID))
	setString(&c.cos.SecretKey, os.Getenv(EnvCOSSecretKey))
	setString(&c.cos.Prefix, os.Getenv(EnvCOSPrefix))
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// VideosDir is the directory an annotation session is opened over.
func (c *EnvConfig) VideosDir() string {
	if c.videosDir != "" {
		return c.videosDir
	}
	return filepath.Join(c.dataDir, "videos")
}

// AnnotationsDir holds one {name}.json record per video.
func (c *EnvConfig) AnnotationsDir() string {
	if c.annotationsDir != "" {
		return c.annotationsDir
	}
	return filepath.Join(c.dataDir, "annotations")
}

func (c *EnvConfig) ClipsDir() string {
	if c.clipsDir != "" {
		return c.clipsDir
	}
	return filepath.Join(c.dataDir, "clips")
}

func (c *EnvConfig) Ext() string {
	return strings.TrimPrefix(c.ext, ".")
}

func (c *EnvConfig) Codec() string {
	return c.codec
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) Workers() int {
	return c.workers
}

func (c *EnvConfig) SaveFrames() bool {
	return c.saveFrames
}

func (c *EnvConfig) COS() COSConfig {
	return c.cos
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
