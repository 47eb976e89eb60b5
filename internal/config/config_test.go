package config

import (
	"os"
	"path/filepath"
	"testing"
)

var allEnv = []string{
	EnvConfigFile, EnvPort, EnvLogLevel, EnvDataDir, EnvVideosDir, EnvAnnotationsDir,
	EnvClipsDir, EnvExt, EnvCodec, EnvFFmpeg, EnvFFprobe, EnvWorkers, EnvSaveFrames,
	EnvCOSBucketURL, EnvCOSSecretID, EnvCOSSecretKey, EnvCOSPrefix,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnv {
		t.Setenv(k, "")
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clipper.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDataDir, "/data")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.Ext() != "mp4" || cfg.Codec() != DefaultCodec || cfg.Workers() != DefaultWorkers {
		t.Errorf("ext/codec/workers = %s/%s/%d", cfg.Ext(), cfg.Codec(), cfg.Workers())
	}
	if cfg.SaveFrames() {
		t.Error("SaveFrames should default to false")
	}
	if cfg.DBPath() != filepath.Join("/data", DBFilename) {
		t.Errorf("DBPath = %s", cfg.DBPath())
	}
	if cfg.AnnotationsDir() != filepath.Join("/data", "annotations") {
		t.Errorf("AnnotationsDir = %s", cfg.AnnotationsDir())
	}
	if cfg.ClipsDir() != filepath.Join("/data", "clips") {
		t.Errorf("ClipsDir = %s", cfg.ClipsDir())
	}
	if cfg.COS().BucketURL != "" {
		t.Errorf("COS bucket = %q, want empty", cfg.COS().BucketURL)
	}
}

func TestNew_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvExt, ".mkv")
	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvSaveFrames, "true")
	t.Setenv(EnvClipsDir, "/out")
	t.Setenv(EnvCOSBucketURL, "https://clips-1250000000.cos.ap-guangzhou.myqcloud.com")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port())
	}
	if cfg.Ext() != "mkv" {
		t.Errorf("Ext = %s, want mkv", cfg.Ext())
	}
	if cfg.Workers() != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers())
	}
	if !cfg.SaveFrames() {
		t.Error("SaveFrames = false, want true")
	}
	if cfg.ClipsDir() != "/out" {
		t.Errorf("ClipsDir = %s, want /out", cfg.ClipsDir())
	}
	if cfg.COS().BucketURL == "" {
		t.Error("COS bucket not read from env")
	}
}

func TestNew_InvalidEnv(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"workers zero", EnvWorkers, "0"},
		{"save frames not bool", EnvSaveFrames, "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestNew_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
port: 9100
log_level: debug
annotations_dir: /file/annotations
codec: libx265
workers: 3
save_frames: true
cos:
  bucket_url: https://bucket.example.com
  secret_id: id
  secret_key: key
  prefix: clips
`)
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvCodec, "mpeg4")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel())
	}
	if cfg.AnnotationsDir() != "/file/annotations" {
		t.Errorf("AnnotationsDir = %s", cfg.AnnotationsDir())
	}
	if cfg.Codec() != "mpeg4" {
		t.Errorf("Codec = %s, want env override mpeg4", cfg.Codec())
	}
	if cfg.Workers() != 3 || !cfg.SaveFrames() {
		t.Errorf("workers/save_frames = %d/%v", cfg.Workers(), cfg.SaveFrames())
	}
	want := COSConfig{BucketURL: "https://bucket.example.com", SecretID: "id", SecretKey: "key", Prefix: "clips"}
	if cfg.COS() != want {
		t.Errorf("COS = %+v, want %+v", cfg.COS(), want)
	}
}

func TestNew_BadFile(t *testing.T) {
	clearEnv(t)

	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := New(); err == nil {
		t.Error("expected error for missing config file")
	}

	t.Setenv(EnvConfigFile, writeConfigFile(t, "port: [1, 2"))
	if _, err := New(); err == nil {
		t.Error("expected error for malformed config file")
	}

	t.Setenv(EnvConfigFile, writeConfigFile(t, "port: 0\nworkers: -1\n"))
	if _, err := New(); err == nil {
		t.Error("expected error for negative workers")
	}
}
