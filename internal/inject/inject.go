// Package inject types decoded text into the focused application using
// robotgo, either as keystrokes or through the clipboard.
package inject

import (
	"fmt"
	"runtime"
	"unicode/utf8"

	"github.com/go-vgo/robotgo"

	"github.com/chaz8081/gostt-stream/internal/postproc"
)

// Method selects how text reaches the application.
type Method string

const (
	// Type simulates keystrokes. Slower, leaves the clipboard alone.
	Type Method = "type"
	// Paste goes through the clipboard, which is restored afterwards.
	Paste Method = "paste"
)

// ParseMethod validates a configured method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Type, Paste:
		return m, nil
	default:
		return "", fmt.Errorf("inject: method must be %q or %q, got %q", Type, Paste, s)
	}
}

type keyboard interface {
	Type(text string)
	ReadClipboard() (string, error)
	WriteClipboard(text string) error
	Tap(key string, modifier string) error
}

type robotKeyboard struct{}

func (robotKeyboard) Type(text string)                 { robotgo.Type(text) }
func (robotKeyboard) ReadClipboard() (string, error)   { return robotgo.ReadAll() }
func (robotKeyboard) WriteClipboard(text string) error { return robotgo.WriteAll(text) }
func (robotKeyboard) Tap(key string, mod string) error { return robotgo.KeyTap(key, mod) }

// Injector sends successive segments of one dictation, separating them the
// way the post-processor joins words.
type Injector struct {
	method Method
	kb     keyboard
	last   rune
}

// NewInjector creates an Injector with the given method.
func NewInjector(method Method) *Injector {
	return &Injector{method: method, kb: robotKeyboard{}}
}

// Inject sends text to the focused application. A space is inserted before
// it when the previous segment and this one both end and start with
// non-CJK characters.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}
	first, _ := utf8.DecodeRuneInString(text)
	if inj.last != 0 && !postproc.IsCJK(inj.last) && !postproc.IsCJK(first) {
		text = " " + text
	}

	var err error
	if inj.method == Paste {
		err = inj.paste(text)
	} else {
		inj.kb.Type(text)
	}
	if err != nil {
		return err
	}
	inj.last, _ = utf8.DecodeLastRuneInString(text)
	return nil
}

// Reset starts a new dictation: the next segment gets no leading space.
func (inj *Injector) Reset() { inj.last = 0 }

func (inj *Injector) paste(text string) error {
	prev, _ := inj.kb.ReadClipboard()

	if err := inj.kb.WriteClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	mod := "ctrl"
	if runtime.GOOS == "darwin" {
		mod = "cmd"
	}
	if err := inj.kb.Tap("v", mod); err != nil {
		return fmt.Errorf("inject: key tap %s+v: %w", mod, err)
	}

	// Restore previous clipboard (best effort)
	_ = inj.kb.WriteClipboard(prev)
	return nil
}
