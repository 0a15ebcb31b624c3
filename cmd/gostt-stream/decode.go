package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/chaz8081/gostt-stream/internal/metrics"
	"github.com/chaz8081/gostt-stream/internal/transcribe"
)

func decodeCmd(configPath *string) *cli.Command {
	var (
		overrides   modelOverrides
		wavPath     string
		wavScp      string
		resultPath  string
		refPath     string
		format      string
		metricsAddr string
		threads     int
		nbest       bool
		continuous  bool
		simulate    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{Name: "wav-path", Usage: "single wav file to decode", Destination: &wavPath},
		&cli.StringFlag{Name: "wav-scp", Usage: "list of \"<utt> <wav>\" lines to decode", Destination: &wavScp},
		&cli.StringFlag{Name: "result", Usage: "write results here instead of stdout", Destination: &resultPath},
		&cli.StringFlag{Name: "ref", Usage: "\"<utt> <transcript>\" lines to score results against", Destination: &refPath},
		&cli.StringFlag{Name: "format", Usage: "result format: text or json", Value: transcribe.FormatText, Destination: &format},
		&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address while decoding", Destination: &metricsAddr},
		&cli.IntFlag{Name: "thread-num", Usage: "number of recordings decoded at once", Value: 1, Destination: &threads},
		&cli.BoolFlag{Name: "output-nbest", Usage: "write every candidate with its score", Destination: &nbest},
		&cli.BoolFlag{Name: "continuous-decoding", Usage: "split recordings at endpoints", Destination: &continuous},
		&cli.BoolFlag{Name: "simulate-streaming", Usage: "decode at the pace audio would arrive", Destination: &simulate},
	}

	return &cli.Command{
		Name:  "decode",
		Usage: "Decode wav files",
		Flags: append(flags, overrides.flags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if (wavPath == "") == (wavScp == "") {
				return errors.New("exactly one of --wav-path and --wav-scp is required")
			}

			cfg, res, err := setup(*configPath, &overrides)
			if err != nil {
				return err
			}

			var jobs []transcribe.Job
			if wavScp != "" {
				if jobs, err = transcribe.ReadScp(wavScp); err != nil {
					return err
				}
			} else {
				id := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
				jobs = []transcribe.Job{{ID: id, Path: wavPath}}
			}

			var out io.Writer = os.Stdout
			if resultPath != "" {
				f, err := os.Create(resultPath)
				if err != nil {
					return fmt.Errorf("creating result file: %w", err)
				}
				defer f.Close()
				out = f
			}
			sink, err := transcribe.NewSink(out, format, nbest)
			if err != nil {
				return err
			}
			if refPath != "" {
				refs, err := transcribe.ReadTranscripts(refPath)
				if err != nil {
					return err
				}
				sink.SetReferences(refs)
			}

			runner, err := transcribe.NewRunner(res, cfg.DecodeOptions(), cfg.Feature, transcribe.Options{
				Continuous:        continuous,
				SimulateStreaming: simulate,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, metricsAddr); err != nil {
						slog.Error("metrics server failed", "error", err)
					}
				}()
				slog.Info("serving metrics", "addr", metricsAddr)
			}

			runErr := transcribe.NewPool(runner, threads).Run(ctx, jobs, sink)
			printSummary(sink.Summary())
			return runErr
		},
	}
}

func printSummary(s transcribe.Summary) {
	slog.Info("decode finished",
		"utterances", s.Utterances,
		"audio_ms", s.AudioMs,
		"decode_ms", s.DecodeMs,
		"rtf", fmt.Sprintf("%.4f", s.RTF()),
	)
	if s.Scored > 0 {
		fmt.Fprintf(os.Stderr, "Overall -> %.2f %% N=%d C=%d S=%d D=%d I=%d (%d utterances)\n",
			s.WER.WER*100,
			s.WER.RefWords,
			s.WER.RefWords-s.WER.Substitutions-s.WER.Deletions,
			s.WER.Substitutions,
			s.WER.Deletions,
			s.WER.Insertions,
			s.Scored,
		)
	}
}
