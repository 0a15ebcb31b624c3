package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/chaz8081/gostt-stream/internal/config"
	"github.com/chaz8081/gostt-stream/internal/frontend"
	"github.com/chaz8081/gostt-stream/internal/hotkey"
	"github.com/chaz8081/gostt-stream/internal/inject"
	"github.com/chaz8081/gostt-stream/internal/metrics"
	"github.com/chaz8081/gostt-stream/internal/transcribe"
)

func liveCmd(configPath *string) *cli.Command {
	var (
		overrides    modelOverrides
		saveWav      string
		metricsAddr  string
		injectMethod string
		pushToTalk   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{Name: "save-wav", Usage: "also write the captured audio (last take) to this wav file", Destination: &saveWav},
		&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address", Destination: &metricsAddr},
		&cli.StringFlag{Name: "inject", Usage: "type results into the focused app: type or paste (default: config inject.method)", Destination: &injectMethod},
		&cli.BoolFlag{Name: "push-to-talk", Usage: "decode only while the configured hotkey is active", Destination: &pushToTalk},
	}

	return &cli.Command{
		Name:  "live",
		Usage: "Decode the default microphone until interrupted",
		Flags: append(flags, overrides.flags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, res, err := setup(*configPath, &overrides)
			if err != nil {
				return err
			}
			if int(cfg.Audio.SampleRate) != cfg.Feature.SampleRate {
				return fmt.Errorf("audio.sample_rate %d does not match feature.sample_rate %d", cfg.Audio.SampleRate, cfg.Feature.SampleRate)
			}
			if injectMethod != "" {
				cfg.Inject.Method = injectMethod
			}

			var injector *inject.Injector
			if cfg.Inject.Method != "" {
				method, err := inject.ParseMethod(cfg.Inject.Method)
				if err != nil {
					return err
				}
				injector = inject.NewInjector(method)
				slog.Info("text injector ready", "method", method)
			}

			runner, err := transcribe.NewRunner(res, cfg.DecodeOptions(), cfg.Feature, transcribe.Options{Continuous: true})
			if err != nil {
				return err
			}

			recorder, err := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels)
			if err != nil {
				return fmt.Errorf("failed to initialize audio recorder: %w\n\nEnsure microphone access is granted to this terminal", err)
			}
			defer recorder.Close()

			sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if metricsAddr != "" {
				go func() {
					if err := metrics.Serve(sigCtx, metricsAddr); err != nil {
						slog.Error("metrics server failed", "error", err)
					}
				}()
			}

			l := &live{runner: runner, recorder: recorder, injector: injector, saveWav: saveWav}
			if pushToTalk {
				return l.pushToTalk(sigCtx, cfg.Hotkey)
			}
			return l.openMic(sigCtx)
		},
	}
}

type live struct {
	runner   *transcribe.Runner
	recorder *audio.Recorder
	injector *inject.Injector
	saveWav  string
}

// emit prints a finished segment and injects it when enabled.
func (l *live) emit(seg transcribe.Segment) {
	text := seg.Best.Sentence
	if text == "" {
		return
	}
	fmt.Printf("[%d] %s\n", seg.Index, text)
	if l.injector != nil {
		if err := l.injector.Inject(text); err != nil {
			slog.Error("text injection failed", "error", err)
		}
	}
}

// session is one capture feeding one decoder. The decode loop outlives
// the capture: it drains what was queued and returns once the pipeline
// reports its input finished.
type session struct {
	pipeline *frontend.Pipeline
	done     chan error
	start    time.Time
}

func (l *live) startSession() (*session, error) {
	p, d, err := l.runner.NewSession()
	if err != nil {
		return nil, err
	}
	s := &session{pipeline: p, done: make(chan error, 1), start: time.Now()}
	go func() {
		s.done <- l.runner.Stream(context.Background(), d, l.emit)
	}()
	if l.injector != nil {
		l.injector.Reset()
	}

	if err := l.recorder.Start(p.AcceptWaveform); err != nil {
		p.SetInputFinished()
		<-s.done
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}
	slog.Debug("session started", "session", d.ID())
	return s, nil
}

// finish stops the capture and waits for the decoder to drain.
func (l *live) finish(s *session) error {
	samples := l.recorder.Stop()
	s.pipeline.SetInputFinished()
	err := <-s.done
	slog.Info("session finished", "captured", time.Since(s.start).Round(time.Millisecond))

	if l.saveWav != "" && len(samples) > 0 {
		if werr := audio.WriteWAV(l.saveWav, samples, l.recorder.SampleRate()); werr != nil {
			slog.Error("saving recording failed", "error", werr)
		} else {
			slog.Info("saved recording", "path", l.saveWav)
		}
	}
	return err
}

func (l *live) openMic(ctx context.Context) error {
	s, err := l.startSession()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Listening. Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		return l.finish(s)
	case err := <-s.done:
		l.recorder.Stop()
		return err
	}
}

func (l *live) pushToTalk(ctx context.Context, hk config.HotkeyConfig) error {
	mode, err := hotkey.ParseMode(hk.Mode)
	if err != nil {
		return err
	}
	listener := hotkey.NewListener(hk.Keys, mode)
	go listener.Start()
	defer listener.Stop()

	fmt.Fprintf(os.Stderr, "Ready! Press %s to dictate (%s mode). Ctrl+C to quit.\n", strings.Join(hk.Keys, "+"), mode)

	var cur *session
	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				slog.Info("hotkey listener stopped")
				if cur != nil {
					return l.finish(cur)
				}
				return nil
			}
			switch ev.Type {
			case hotkey.EventStart:
				if cur != nil {
					continue
				}
				if cur, err = l.startSession(); err != nil {
					slog.Error("starting session failed", "error", err)
				}
			case hotkey.EventStop:
				if cur == nil {
					continue
				}
				if err := l.finish(cur); err != nil {
					slog.Error("decoding failed", "error", err)
				}
				cur = nil
			}

		case <-ctx.Done():
			var err error
			if cur != nil {
				err = l.finish(cur)
			}
			if err != nil {
				slog.Error("decoding failed", "error", err)
			}
			l.recorder.Close()
			// Exit directly: gohook's C cleanup can crash on shutdown.
			os.Exit(0)
		}
	}
}
