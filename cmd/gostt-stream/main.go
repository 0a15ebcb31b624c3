// Command gostt-stream decodes speech with a chunked CTC model and
// attention rescoring, from files or a live microphone.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/chaz8081/gostt-stream/internal/config"
	"github.com/chaz8081/gostt-stream/internal/decoder"
	"github.com/chaz8081/gostt-stream/internal/logger"
)

func main() {
	var configPath string

	app := &cli.Command{
		Name:  "gostt-stream",
		Usage: "Streaming speech recognition with CTC prefix or automaton search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (default: ~/.config/gostt-stream/config.yaml)",
				Destination: &configPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			decodeCmd(&configPath),
			liveCmd(&configPath),
			initConfigCmd(),
			fetchModelCmd(&configPath),
			genModelCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// modelOverrides are the command-line flags that take precedence over the
// config file.
type modelOverrides struct {
	modelPath   string
	unitPath    string
	fstPath     string
	dictPath    string
	contextPath string
	chunkSize   int
}

func (o *modelOverrides) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "model", Usage: "model weights file", Destination: &o.modelPath},
		&cli.StringFlag{Name: "unit-path", Usage: "model unit table", Destination: &o.unitPath},
		&cli.StringFlag{Name: "fst-path", Usage: "decoding graph in text form", Destination: &o.fstPath},
		&cli.StringFlag{Name: "dict-path", Usage: "word table for the decoding graph", Destination: &o.dictPath},
		&cli.StringFlag{Name: "context-path", Usage: "phrases to bias toward, one per line", Destination: &o.contextPath},
		&cli.IntFlag{Name: "chunk-size", Usage: "decoding chunk in encoder frames (0 = config value)", Destination: &o.chunkSize},
	}
}

func (o *modelOverrides) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.ModelPath, o.modelPath)
	set(&cfg.UnitPath, o.unitPath)
	set(&cfg.FstPath, o.fstPath)
	set(&cfg.DictPath, o.dictPath)
	set(&cfg.ContextPath, o.contextPath)
	if o.chunkSize != 0 {
		cfg.Decode.ChunkSize = o.chunkSize
	}
}

// setup loads and validates the config, installs the default logger and
// loads the decode resource.
func setup(configPath string, o *modelOverrides) (*config.Config, *decoder.Resource, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}

	log, err := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(log)

	res, err := decoder.LoadResource(cfg.ResourceFiles())
	if err != nil {
		return nil, nil, fmt.Errorf("%w\n\nCheck model_path and unit_path, or run 'gostt-stream gen-model' for a test model", err)
	}
	search := "prefix"
	if res.Fst() != nil {
		search = "wfst"
	}
	slog.Info("resource loaded",
		"model", cfg.ModelPath,
		"units", res.UnitTable().Size(),
		"search", search,
		"chunk_size", cfg.Decode.ChunkSize,
	)
	return cfg, res, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}
