// Package hotkey turns a global key combination into push-to-talk events
// using gohook. In hold mode a session lasts while the keys are down; in
// toggle mode one press starts it and the next press ends it.
package hotkey

import (
	"fmt"
	"sync"

	hook "github.com/robotn/gohook"
)

// Mode selects how key presses map to sessions.
type Mode string

const (
	Hold   Mode = "hold"
	Toggle Mode = "toggle"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Hold, Toggle:
		return m, nil
	default:
		return "", fmt.Errorf("hotkey: mode must be %q or %q, got %q", Hold, Toggle, s)
	}
}

// EventType says whether a session should start or stop.
type EventType int

const (
	EventStart EventType = iota
	EventStop
)

func (t EventType) String() string {
	if t == EventStart {
		return "start"
	}
	return "stop"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener watches a key combination and emits start/stop events.
type Listener struct {
	keys []string
	mode Mode
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	active bool
}

// NewListener creates a Listener for keys, given as lowercase names such
// as ["ctrl", "shift", "r"].
func NewListener(keys []string, mode Mode) *Listener {
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the event channel. It is closed once Start returns.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start listens until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	if l.mode == Toggle {
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.press() })
	} else {
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.set(true) })
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.set(false) })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// press flips the session state.
func (l *Listener) press() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transition(!l.active)
}

// set moves to active, ignoring key repeat while already there.
func (l *Listener) set(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == active {
		return
	}
	l.transition(active)
}

func (l *Listener) transition(active bool) {
	ev := Event{Type: EventStop}
	if active {
		ev.Type = EventStart
	}
	select {
	case l.ch <- ev:
		l.active = active
	default:
		// state follows delivered events only
	}
}

// Stop terminates the listener. It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
