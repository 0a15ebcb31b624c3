package inject

import (
	"errors"
	"strings"
	"testing"
)

type fakeKeyboard struct {
	typed     []string
	clipboard string
	pasted    []string
	tapErr    error
}

func (k *fakeKeyboard) Type(text string)                 { k.typed = append(k.typed, text) }
func (k *fakeKeyboard) ReadClipboard() (string, error)   { return k.clipboard, nil }
func (k *fakeKeyboard) WriteClipboard(text string) error { k.clipboard = text; return nil }
func (k *fakeKeyboard) Tap(key string, mod string) error {
	if k.tapErr != nil {
		return k.tapErr
	}
	k.pasted = append(k.pasted, k.clipboard)
	return nil
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod("paste"); err != nil || m != Paste {
		t.Errorf("ParseMethod(paste) = %q, %v", m, err)
	}
	if _, err := ParseMethod("shout"); err == nil {
		t.Error("ParseMethod(shout) should fail")
	}
}

func TestInjectSeparatesSegments(t *testing.T) {
	kb := &fakeKeyboard{}
	inj := &Injector{method: Type, kb: kb}

	for _, seg := range []string{"hello world", "", "again", "你好", "世界", "ok"} {
		if err := inj.Inject(seg); err != nil {
			t.Fatalf("Inject(%q) error = %v", seg, err)
		}
	}
	got := strings.Join(kb.typed, "|")
	want := "hello world| again|你好|世界|ok"
	if got != want {
		t.Errorf("typed = %q, want %q", got, want)
	}

	inj.Reset()
	if err := inj.Inject("fresh"); err != nil {
		t.Fatal(err)
	}
	if last := kb.typed[len(kb.typed)-1]; last != "fresh" {
		t.Errorf("after Reset typed %q, want %q", last, "fresh")
	}
}

func TestPasteRestoresClipboard(t *testing.T) {
	kb := &fakeKeyboard{clipboard: "saved"}
	inj := &Injector{method: Paste, kb: kb}

	if err := inj.Inject("one"); err != nil {
		t.Fatal(err)
	}
	if err := inj.Inject("two"); err != nil {
		t.Fatal(err)
	}
	if len(kb.pasted) != 2 || kb.pasted[0] != "one" || kb.pasted[1] != " two" {
		t.Errorf("pasted = %q", kb.pasted)
	}
	if kb.clipboard != "saved" {
		t.Errorf("clipboard = %q, want %q", kb.clipboard, "saved")
	}
}

func TestPasteFailureKeepsSeparatorState(t *testing.T) {
	kb := &fakeKeyboard{tapErr: errors.New("no display")}
	inj := &Injector{method: Paste, kb: kb}

	if err := inj.Inject("one"); err == nil {
		t.Fatal("Inject should fail")
	}
	kb.tapErr = nil
	if err := inj.Inject("two"); err != nil {
		t.Fatal(err)
	}
	if kb.pasted[0] != "two" {
		t.Errorf("pasted = %q, want no leading space", kb.pasted[0])
	}
}
