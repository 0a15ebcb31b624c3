package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/chaz8081/gostt-stream/internal/asrmodel/linear"
	"github.com/chaz8081/gostt-stream/internal/frontend"
)

// genModelCmd writes a randomly initialized model and a matching unit
// table, enough to exercise the whole pipeline without trained weights.
func genModelCmd() *cli.Command {
	var (
		dir           string
		units         string
		hidden        int
		seed          int
		bidirectional bool
	)
	return &cli.Command{
		Name:  "gen-model",
		Usage: "Write a random test model and unit table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "output directory", Value: ".", Destination: &dir},
			&cli.StringFlag{Name: "units", Usage: "comma-separated units between <blank> and <sos/eos>", Value: "▁hello,▁world,s", Destination: &units},
			&cli.IntFlag{Name: "hidden", Usage: "encoder width", Value: 32, Destination: &hidden},
			&cli.IntFlag{Name: "seed", Usage: "random seed", Value: 1, Destination: &seed},
			&cli.BoolFlag{Name: "bidirectional", Usage: "include a right-to-left decoder", Destination: &bidirectional},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			table := append([]string{"<blank>"}, strings.Split(units, ",")...)
			table = append(table, "<sos/eos>")
			eos := len(table) - 1

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			var b strings.Builder
			for i, u := range table {
				fmt.Fprintf(&b, "%s %d\n", u, i)
			}
			unitPath := filepath.Join(dir, "units.txt")
			if err := os.WriteFile(unitPath, []byte(b.String()), 0o644); err != nil {
				return fmt.Errorf("writing unit table: %w", err)
			}

			modelPath := filepath.Join(dir, "model.json")
			w := linear.RandomWeights(linear.Dims{
				FeatureDim:      frontend.DefaultConfig().NumBins,
				Hidden:          hidden,
				Vocab:           len(table),
				SubsamplingRate: 4,
				RightContext:    6,
				SOS:             eos,
				EOS:             eos,
			}, int64(seed), bidirectional)
			if err := linear.Save(modelPath, w); err != nil {
				return err
			}
			fmt.Printf("Wrote %s and %s\n", modelPath, unitPath)
			return nil
		},
	}
}
