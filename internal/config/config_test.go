package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ModelPath == "" {
		t.Error("ModelPath should not be empty")
	}
	if cfg.UnitPath == "" {
		t.Error("UnitPath should not be empty")
	}
	if cfg.FstPath != "" {
		t.Errorf("FstPath = %q, want empty", cfg.FstPath)
	}
	if cfg.Decode.ChunkSize != 16 {
		t.Errorf("Decode.ChunkSize = %d, want 16", cfg.Decode.ChunkSize)
	}
	if cfg.Decode.NumLeftChunks != -1 {
		t.Errorf("Decode.NumLeftChunks = %d, want -1", cfg.Decode.NumLeftChunks)
	}
	if cfg.Decode.CTCWeight != 0.5 || cfg.Decode.RescoringWeight != 1.0 || cfg.Decode.ReverseWeight != 0 {
		t.Errorf("Decode weights = %v/%v/%v, want 0.5/1/0", cfg.Decode.CTCWeight, cfg.Decode.RescoringWeight, cfg.Decode.ReverseWeight)
	}
	if cfg.Decode.Endpoint.Rule2.MinTrailingSilenceMs != 1000 || !cfg.Decode.Endpoint.Rule2.MustDecodedSomething {
		t.Errorf("Decode.Endpoint.Rule2 = %+v", cfg.Decode.Endpoint.Rule2)
	}
	if cfg.Feature.NumBins != 80 {
		t.Errorf("Feature.NumBins = %d, want 80", cfg.Feature.NumBins)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if len(cfg.Hotkey.Keys) != 3 || cfg.Hotkey.Mode != "hold" {
		t.Errorf("Hotkey = %+v, want ctrl+shift+r hold", cfg.Hotkey)
	}
	if cfg.Inject.Method != "" {
		t.Errorf("Inject.Method = %q, want empty", cfg.Inject.Method)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
model_path: /tmp/model.json
unit_path: /tmp/units.txt
fst_path: /tmp/TLG.txt
dict_path: /tmp/words.txt
feature:
  num_bins: 40
decode:
  chunk_size: 8
  num_left_chunks: 4
  rescoring_weight: 0.5
  wfst_search:
    beam: 12
  endpoint:
    rule2:
      must_decoded_sth: true
      min_trailing_silence_ms: 600
post_process:
  lowercase: true
log_level: debug
log_format: json
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ModelPath != "/tmp/model.json" {
		t.Errorf("ModelPath = %q, want %q", cfg.ModelPath, "/tmp/model.json")
	}
	if cfg.FstPath != "/tmp/TLG.txt" || cfg.DictPath != "/tmp/words.txt" {
		t.Errorf("FstPath, DictPath = %q, %q", cfg.FstPath, cfg.DictPath)
	}
	if cfg.Feature.NumBins != 40 {
		t.Errorf("Feature.NumBins = %d, want 40", cfg.Feature.NumBins)
	}
	if cfg.Feature.SampleRate != 16000 {
		t.Errorf("Feature.SampleRate = %d, want default 16000", cfg.Feature.SampleRate)
	}
	if cfg.Decode.ChunkSize != 8 || cfg.Decode.NumLeftChunks != 4 {
		t.Errorf("Decode chunking = %d/%d, want 8/4", cfg.Decode.ChunkSize, cfg.Decode.NumLeftChunks)
	}
	if cfg.Decode.CTCWeight != 0.5 {
		t.Errorf("Decode.CTCWeight = %v, want default 0.5", cfg.Decode.CTCWeight)
	}
	if cfg.Decode.WfstSearch.Beam != 12 || cfg.Decode.WfstSearch.MaxActive != 7000 {
		t.Errorf("Decode.WfstSearch = %+v", cfg.Decode.WfstSearch)
	}
	if cfg.Decode.Endpoint.Rule2.MinTrailingSilenceMs != 600 {
		t.Errorf("Rule2.MinTrailingSilenceMs = %d, want 600", cfg.Decode.Endpoint.Rule2.MinTrailingSilenceMs)
	}
	if !cfg.PostProcess.Lowercase {
		t.Error("PostProcess.Lowercase should be true")
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("LogLevel, LogFormat = %q, %q", cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
model_path: ~/models/model.json
context_path: ~/models/hotwords.txt
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "models/model.json"); cfg.ModelPath != want {
		t.Errorf("ModelPath = %q, want %q", cfg.ModelPath, want)
	}
	if want := filepath.Join(home, "models/hotwords.txt"); cfg.ContextPath != want {
		t.Errorf("ContextPath = %q, want %q", cfg.ContextPath, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("decode: [1, 2"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty model path",
			modify:  func(c *Config) { c.ModelPath = "" },
			wantErr: true,
		},
		{
			name:    "empty unit path",
			modify:  func(c *Config) { c.UnitPath = "" },
			wantErr: true,
		},
		{
			name:    "fst without dict",
			modify:  func(c *Config) { c.FstPath = "/tmp/TLG.txt" },
			wantErr: true,
		},
		{
			name:    "fst with dict",
			modify:  func(c *Config) { c.FstPath, c.DictPath = "/tmp/TLG.txt", "/tmp/words.txt" },
			wantErr: false,
		},
		{
			name:    "zero feature bins",
			modify:  func(c *Config) { c.Feature.NumBins = 0 },
			wantErr: true,
		},
		{
			name:    "reverse weight above one",
			modify:  func(c *Config) { c.Decode.ReverseWeight = 1.2 },
			wantErr: true,
		},
		{
			name:    "negative ctc weight",
			modify:  func(c *Config) { c.Decode.CTCWeight = -0.1 },
			wantErr: true,
		},
		{
			name:    "zero prefix beam",
			modify:  func(c *Config) { c.Decode.PrefixSearch.SecondBeamSize = 0 },
			wantErr: true,
		},
		{
			name:    "zero wfst nbest",
			modify:  func(c *Config) { c.Decode.WfstSearch.NBest = 0 },
			wantErr: true,
		},
		{
			name:    "zero wfst beam",
			modify:  func(c *Config) { c.Decode.WfstSearch.Beam = 0 },
			wantErr: true,
		},
		{
			name:    "zero sample rate",
			modify:  func(c *Config) { c.Audio.SampleRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero channels",
			modify:  func(c *Config) { c.Audio.Channels = 0 },
			wantErr: true,
		},
		{
			name:    "empty hotkey keys",
			modify:  func(c *Config) { c.Hotkey.Keys = nil },
			wantErr: true,
		},
		{
			name:    "invalid hotkey mode",
			modify:  func(c *Config) { c.Hotkey.Mode = "tap" },
			wantErr: true,
		},
		{
			name:    "paste injection",
			modify:  func(c *Config) { c.Inject.Method = "paste" },
			wantErr: false,
		},
		{
			name:    "invalid inject method",
			modify:  func(c *Config) { c.Inject.Method = "shout" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeOptions(t *testing.T) {
	cfg := Default()
	cfg.Decode.ChunkSize = 4
	cfg.Decode.Endpoint.SilenceMargin = 1.5
	cfg.Decode.WfstSearch.NBest = 3
	cfg.Decode.PrefixSearch.FirstBeamSize = 5

	opts := cfg.DecodeOptions()
	if opts.ChunkSize != 4 {
		t.Errorf("ChunkSize = %d, want 4", opts.ChunkSize)
	}
	if opts.Endpoint.SilenceMargin != 1.5 {
		t.Errorf("Endpoint.SilenceMargin = %v, want 1.5", opts.Endpoint.SilenceMargin)
	}
	if opts.Endpoint.Rule1.MinTrailingSilenceMs != 5000 {
		t.Errorf("Endpoint.Rule1 = %+v", opts.Endpoint.Rule1)
	}
	if opts.WfstBeam.NBest != 3 || opts.WfstBeam.MaxActive != 7000 {
		t.Errorf("WfstBeam = %+v", opts.WfstBeam)
	}
	if opts.PrefixBeam.FirstBeamSize != 5 || opts.PrefixBeam.SecondBeamSize != 10 {
		t.Errorf("PrefixBeam = %+v", opts.PrefixBeam)
	}
}

func TestResourceFiles(t *testing.T) {
	cfg := Default()
	cfg.ContextPath = "/tmp/hotwords.txt"
	cfg.Decode.ContextScore = 2.5
	cfg.PostProcess.Lowercase = true

	files := cfg.ResourceFiles()
	if files.ModelPath != cfg.ModelPath || files.UnitPath != cfg.UnitPath {
		t.Errorf("ResourceFiles paths = %+v", files)
	}
	if files.ContextPath != "/tmp/hotwords.txt" || files.ContextScore != 2.5 {
		t.Errorf("ResourceFiles context = %q, %v", files.ContextPath, files.ContextScore)
	}
	if !files.Post.Lowercase {
		t.Error("ResourceFiles.Post.Lowercase should be true")
	}
	if files.LoadModel == nil {
		t.Fatal("ResourceFiles.LoadModel should be set")
	}
	if _, err := files.LoadModel(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadModel on a missing file should fail")
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault("")
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "gostt-stream", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# gostt-stream") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Decode.ChunkSize != 16 {
		t.Errorf("written config Decode.ChunkSize = %d, want 16", cfg.Decode.ChunkSize)
	}
	if cfg.Decode.Endpoint.Rule3.MinUtteranceLengthMs != 20000 {
		t.Errorf("written config Rule3 = %+v", cfg.Decode.Endpoint.Rule3)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written config error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	existingContent := []byte("model_path: /custom/model.json\n")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	// WriteDefault should return ("", nil) without overwriting
	path, err := WriteDefault(configPath)
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
