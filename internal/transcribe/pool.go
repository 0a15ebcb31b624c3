package transcribe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/gostt-stream/internal/audio"
)

// Job names one recording to decode.
type Job struct {
	ID   string
	Path string
}

// ReadScp parses "<utt> <path>" lines. Blank lines are skipped.
func ReadScp(path string) ([]Job, error) {
	pairs, err := readPairs(path)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, len(pairs))
	for i, p := range pairs {
		jobs[i] = Job{ID: p[0], Path: p[1]}
	}
	return jobs, nil
}

// ReadTranscripts parses "<utt> <text...>" lines into a map.
func ReadTranscripts(path string) (map[string]string, error) {
	pairs, err := readPairs(path)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		refs[p[0]] = p[1]
	}
	return refs, nil
}

func readPairs(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: open %s: %w", path, err)
	}
	defer f.Close()

	var pairs [][2]string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			key, value, ok = strings.Cut(line, "\t")
		}
		if !ok {
			return nil, fmt.Errorf("transcribe: %s:%d: want \"<key> <value>\", got %q", path, n, line)
		}
		pairs = append(pairs, [2]string{key, strings.TrimSpace(value)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcribe: read %s: %w", path, err)
	}
	return pairs, nil
}

// Pool decodes jobs on a bounded number of goroutines. Sessions share the
// Runner's resource and nothing else.
type Pool struct {
	runner  *Runner
	threads int
}

// NewPool creates a pool running at most threads sessions at once.
func NewPool(runner *Runner, threads int) *Pool {
	return &Pool{runner: runner, threads: max(threads, 1)}
}

// Run decodes every job and writes outcomes to sink as they finish. A job
// that fails is logged and skipped; Run returns all such failures joined.
// Cancelling ctx stops scheduling new jobs.
func (p *Pool) Run(ctx context.Context, jobs []Job, sink *Sink) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		slog.Error("utterance failed", "error", err)
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.threads)
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			clip, err := audio.LoadWAV(job.Path)
			if err != nil {
				fail(fmt.Errorf("%s: %w", job.ID, err))
				return nil
			}
			if clip.SampleRate != p.runner.SampleRate() {
				fail(fmt.Errorf("%s: sample rate %d, features expect %d", job.ID, clip.SampleRate, p.runner.SampleRate()))
				return nil
			}
			out, err := p.runner.Decode(gctx, job.ID, clip.Samples)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				fail(err)
				return nil
			}
			return sink.Write(out)
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	} else if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
