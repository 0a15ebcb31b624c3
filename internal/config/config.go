package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gostt-stream/internal/asrmodel"
	"github.com/chaz8081/gostt-stream/internal/asrmodel/linear"
	"github.com/chaz8081/gostt-stream/internal/decoder"
	"github.com/chaz8081/gostt-stream/internal/endpoint"
	"github.com/chaz8081/gostt-stream/internal/frontend"
	"github.com/chaz8081/gostt-stream/internal/hotkey"
	"github.com/chaz8081/gostt-stream/internal/inject"
	"github.com/chaz8081/gostt-stream/internal/postproc"
	"github.com/chaz8081/gostt-stream/internal/search"
)

// Config holds all application configuration.
type Config struct {
	ModelPath   string           `yaml:"model_path"`
	UnitPath    string           `yaml:"unit_path"`
	FstPath     string           `yaml:"fst_path"`
	DictPath    string           `yaml:"dict_path"`
	ContextPath string           `yaml:"context_path"`
	Feature     frontend.Config  `yaml:"feature"`
	Decode      DecodeConfig     `yaml:"decode"`
	PostProcess postproc.Options `yaml:"post_process"`
	Audio       AudioConfig      `yaml:"audio"`
	Hotkey      HotkeyConfig     `yaml:"hotkey"`
	Inject      InjectConfig     `yaml:"inject"`
	LogLevel    string           `yaml:"log_level"`
	LogFormat   string           `yaml:"log_format"`
}

// DecodeConfig holds decoder settings.
type DecodeConfig struct {
	ChunkSize       int     `yaml:"chunk_size"`
	NumLeftChunks   int     `yaml:"num_left_chunks"`
	CTCWeight       float64 `yaml:"ctc_weight"`
	RescoringWeight float64 `yaml:"rescoring_weight"`
	ReverseWeight   float64 `yaml:"reverse_weight"`
	TimestampGapMs  int     `yaml:"timestamp_gap_ms"`
	ContextScore    float64 `yaml:"context_score"`

	PrefixSearch PrefixSearchConfig `yaml:"prefix_search"`
	WfstSearch   WfstSearchConfig   `yaml:"wfst_search"`
	Endpoint     EndpointConfig     `yaml:"endpoint"`
}

// PrefixSearchConfig holds CTC prefix beam search settings.
type PrefixSearchConfig struct {
	Blank          int `yaml:"blank"`
	FirstBeamSize  int `yaml:"first_beam_size"`
	SecondBeamSize int `yaml:"second_beam_size"`
}

// WfstSearchConfig holds automaton beam search settings.
type WfstSearchConfig struct {
	Blank           int     `yaml:"blank"`
	Beam            float64 `yaml:"beam"`
	MaxActive       int     `yaml:"max_active"`
	NBest           int     `yaml:"nbest"`
	AcousticScale   float64 `yaml:"acoustic_scale"`
	BlankSkipThresh float64 `yaml:"blank_skip_thresh"`
}

// EndpointConfig holds endpoint detection settings.
type EndpointConfig struct {
	Blank         int           `yaml:"blank"`
	SilenceMargin float64       `yaml:"silence_margin"`
	Rule1         endpoint.Rule `yaml:"rule1"`
	Rule2         endpoint.Rule `yaml:"rule2"`
	Rule3         endpoint.Rule `yaml:"rule3"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
}

// HotkeyConfig holds push-to-talk settings for live decoding.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
	Mode string   `yaml:"mode"` // "hold" or "toggle"
}

// InjectConfig holds text injection settings for live decoding.
type InjectConfig struct {
	Method string `yaml:"method"` // "", "type" or "paste"; empty prints only
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-stream")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "gostt-stream")

	opts := decoder.DefaultOptions()
	ep := opts.Endpoint
	return &Config{
		ModelPath: filepath.Join(dataDir, "model.json"),
		UnitPath:  filepath.Join(dataDir, "units.txt"),
		Feature:   frontend.DefaultConfig(),
		Decode: DecodeConfig{
			ChunkSize:       opts.ChunkSize,
			NumLeftChunks:   opts.NumLeftChunks,
			CTCWeight:       opts.CTCWeight,
			RescoringWeight: opts.RescoringWeight,
			ReverseWeight:   opts.ReverseWeight,
			TimestampGapMs:  opts.TimestampGapMs,
			ContextScore:    3.0,
			PrefixSearch: PrefixSearchConfig{
				Blank:          opts.PrefixBeam.Blank,
				FirstBeamSize:  opts.PrefixBeam.FirstBeamSize,
				SecondBeamSize: opts.PrefixBeam.SecondBeamSize,
			},
			WfstSearch: WfstSearchConfig{
				Blank:           opts.WfstBeam.Blank,
				Beam:            opts.WfstBeam.Beam,
				MaxActive:       opts.WfstBeam.MaxActive,
				NBest:           opts.WfstBeam.NBest,
				AcousticScale:   opts.WfstBeam.AcousticScale,
				BlankSkipThresh: opts.WfstBeam.BlankSkipThresh,
			},
			Endpoint: EndpointConfig{
				Blank:         ep.Blank,
				SilenceMargin: ep.SilenceMargin,
				Rule1:         ep.Rule1,
				Rule2:         ep.Rule2,
				Rule3:         ep.Rule3,
			},
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "r"},
			Mode: "hold",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in file paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ModelPath = expandTilde(cfg.ModelPath)
	cfg.UnitPath = expandTilde(cfg.UnitPath)
	cfg.FstPath = expandTilde(cfg.FstPath)
	cfg.DictPath = expandTilde(cfg.DictPath)
	cfg.ContextPath = expandTilde(cfg.ContextPath)

	return cfg, nil
}

const defaultHeader = `# gostt-stream configuration
# Paths may start with ~. Leave fst_path empty to decode with the CTC prefix
# beam search; set it together with dict_path to decode through an automaton.
`

// WriteDefault writes the default configuration to path, or to
// DefaultConfigPath when path is empty, creating parent directories. It
// returns the written path, or "" without touching anything when the file
// already exists.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("model_path must not be empty")
	}
	if c.UnitPath == "" {
		return fmt.Errorf("unit_path must not be empty")
	}
	if c.FstPath != "" && c.DictPath == "" {
		return fmt.Errorf("dict_path is required when fst_path is set")
	}

	if err := c.Feature.Validate(); err != nil {
		return err
	}
	if err := c.DecodeOptions().Validate(); err != nil {
		return err
	}

	d := c.Decode
	if d.PrefixSearch.FirstBeamSize <= 0 || d.PrefixSearch.SecondBeamSize <= 0 {
		return fmt.Errorf("decode.prefix_search beam sizes must be > 0")
	}
	if d.WfstSearch.MaxActive <= 0 || d.WfstSearch.NBest <= 0 {
		return fmt.Errorf("decode.wfst_search max_active and nbest must be > 0")
	}
	if d.WfstSearch.Beam <= 0 {
		return fmt.Errorf("decode.wfst_search.beam must be > 0")
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}
	if _, err := hotkey.ParseMode(c.Hotkey.Mode); err != nil {
		return err
	}
	if c.Inject.Method != "" {
		if _, err := inject.ParseMethod(c.Inject.Method); err != nil {
			return err
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// DecodeOptions converts the decode section into decoder options.
func (c *Config) DecodeOptions() decoder.Options {
	d := c.Decode
	return decoder.Options{
		ChunkSize:       d.ChunkSize,
		NumLeftChunks:   d.NumLeftChunks,
		CTCWeight:       d.CTCWeight,
		RescoringWeight: d.RescoringWeight,
		ReverseWeight:   d.ReverseWeight,
		TimestampGapMs:  d.TimestampGapMs,
		Endpoint: endpoint.Config{
			Blank:         d.Endpoint.Blank,
			SilenceMargin: d.Endpoint.SilenceMargin,
			Rule1:         d.Endpoint.Rule1,
			Rule2:         d.Endpoint.Rule2,
			Rule3:         d.Endpoint.Rule3,
		},
		PrefixBeam: search.PrefixBeamOptions{
			Blank:          d.PrefixSearch.Blank,
			FirstBeamSize:  d.PrefixSearch.FirstBeamSize,
			SecondBeamSize: d.PrefixSearch.SecondBeamSize,
		},
		WfstBeam: search.WfstBeamOptions{
			Blank:           d.WfstSearch.Blank,
			Beam:            d.WfstSearch.Beam,
			MaxActive:       d.WfstSearch.MaxActive,
			NBest:           d.WfstSearch.NBest,
			AcousticScale:   d.WfstSearch.AcousticScale,
			BlankSkipThresh: d.WfstSearch.BlankSkipThresh,
		},
	}
}

// ResourceFiles lists the files the decode resource is loaded from.
func (c *Config) ResourceFiles() decoder.Files {
	return decoder.Files{
		LoadModel:    loadLinear,
		ModelPath:    c.ModelPath,
		UnitPath:     c.UnitPath,
		FstPath:      c.FstPath,
		DictPath:     c.DictPath,
		ContextPath:  c.ContextPath,
		ContextScore: c.Decode.ContextScore,
		Post:         c.PostProcess,
	}
}

func loadLinear(path string) (asrmodel.Model, error) {
	return linear.Load(path)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
