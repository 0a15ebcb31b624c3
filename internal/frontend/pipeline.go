package frontend

import "sync"

// Pipeline converts pushed waveform into feature frames and hands them out
// in order. One producer calls AcceptWaveform and SetInputFinished; one
// consumer calls Read. Read blocks until enough frames are queued or input
// is finished.
type Pipeline struct {
	fbank *Fbank

	mu            sync.Mutex
	cond          *sync.Cond
	remained      []float32
	queue         [][]float32
	inputFinished bool
	numFrames     int
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	fbank, err := NewFbank(cfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{fbank: fbank}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Config returns the filterbank configuration.
func (p *Pipeline) Config() Config { return p.fbank.cfg }

// FrameShift returns the frame shift in samples.
func (p *Pipeline) FrameShift() int { return p.fbank.cfg.FrameShift }

// SampleRate returns the expected sample rate.
func (p *Pipeline) SampleRate() int { return p.fbank.cfg.SampleRate }

// Dim returns the feature dimension.
func (p *Pipeline) Dim() int { return p.fbank.Dim() }

// AcceptWaveform appends samples in [-1, 1] and queues every frame they
// complete.
func (p *Pipeline) AcceptWaveform(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wave := make([]float32, 0, len(p.remained)+len(samples))
	wave = append(wave, p.remained...)
	wave = append(wave, samples...)

	feats := p.fbank.Compute(wave)
	p.queue = append(p.queue, feats...)
	p.numFrames += len(feats)

	consumed := len(feats) * p.fbank.cfg.FrameShift
	p.remained = append([]float32(nil), wave[consumed:]...)
	p.cond.Broadcast()
}

// AcceptFeatures queues precomputed frames.
func (p *Pipeline) AcceptFeatures(feats [][]float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, feats...)
	p.numFrames += len(feats)
	p.cond.Broadcast()
}

// SetInputFinished marks the end of input and wakes a blocked reader.
func (p *Pipeline) SetInputFinished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputFinished = true
	p.cond.Broadcast()
}

// InputFinished reports whether SetInputFinished was called.
func (p *Pipeline) InputFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputFinished
}

// NumQueuedFrames returns the frames waiting to be read.
func (p *Pipeline) NumQueuedFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// NumFrames returns the total frames produced since the last Reset.
func (p *Pipeline) NumFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numFrames
}

// Read waits for n frames. It returns them and true, or, once input is
// finished and fewer than n remain, whatever is left and false.
func (p *Pipeline) Read(n int) ([][]float32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) < n && !p.inputFinished {
		p.cond.Wait()
	}
	if len(p.queue) >= n {
		out := p.queue[:n:n]
		p.queue = p.queue[n:]
		return out, true
	}
	out := p.queue
	p.queue = nil
	return out, false
}

// Reset drops queued frames and buffered samples and clears the finished
// flag.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remained = nil
	p.queue = nil
	p.inputFinished = false
	p.numFrames = 0
}
