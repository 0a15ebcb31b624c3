package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/chaz8081/gostt-stream/internal/config"
	"github.com/chaz8081/gostt-stream/internal/models"
)

func fetchModelCmd(configPath *string) *cli.Command {
	var (
		baseURL   string
		dir       string
		withGraph bool
	)
	return &cli.Command{
		Name:  "fetch-model",
		Usage: "Download a model bundle into the directory of model_path",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "base URL the bundle files are published under", Destination: &baseURL, Required: true},
			&cli.StringFlag{Name: "dir", Usage: "destination (default: directory of the configured model_path)", Destination: &dir},
			&cli.BoolFlag{Name: "with-graph", Usage: "also fetch TLG.txt and words.txt", Destination: &withGraph},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if dir == "" {
				cfg, err := loadConfig(*configPath)
				if err != nil {
					return fmt.Errorf("config: %w", err)
				}
				dir = filepath.Dir(cfg.ModelPath)
			}
			d := &models.Downloader{Dir: dir, Progress: os.Stdout}
			paths, err := d.Fetch(ctx, models.StandardBundle(baseURL, withGraph))
			if err != nil {
				return err
			}
			fmt.Println("Model files:")
			for _, p := range paths {
				fmt.Printf("  %s\n", p)
			}
			if dir != filepath.Dir(config.Default().ModelPath) {
				fmt.Println("Point model_path and unit_path at these files in your config.")
			}
			return nil
		},
	}
}
