package models

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newServer(t *testing.T, files map[string]string) (*httptest.Server, *int) {
	t.Helper()
	hits := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		body, ok := files[strings.TrimPrefix(r.URL.Path, "/bundle/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func TestFetch(t *testing.T) {
	srv, hits := newServer(t, map[string]string{
		"model.json": `{"dims":{}}`,
		"units.txt":  "<blank> 0\n",
	})
	dir := t.TempDir()
	var progress bytes.Buffer
	d := &Downloader{Client: srv.Client(), Dir: dir, Progress: &progress}

	paths, err := d.Fetch(context.Background(), StandardBundle(srv.URL+"/bundle/", false))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(paths) != 2 || paths[1] != filepath.Join(dir, "units.txt") {
		t.Fatalf("paths = %v", paths)
	}
	got, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "<blank> 0\n" {
		t.Errorf("units.txt = %q", got)
	}
	if _, err := os.Stat(paths[1] + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	if !strings.Contains(progress.String(), "Downloaded") {
		t.Errorf("progress = %q", progress.String())
	}

	// Present files are not downloaded again.
	if _, err := d.Fetch(context.Background(), StandardBundle(srv.URL+"/bundle", false)); err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if *hits != 2 {
		t.Errorf("server hits = %d, want 2", *hits)
	}
}

func TestFetchChecksum(t *testing.T) {
	srv, _ := newServer(t, map[string]string{"units.txt": "<blank> 0\n"})
	sum := sha256.Sum256([]byte("<blank> 0\n"))

	d := &Downloader{Client: srv.Client(), Dir: t.TempDir()}
	b := Bundle{BaseURL: srv.URL + "/bundle", Files: []File{{Name: "units.txt", SHA256: hex.EncodeToString(sum[:])}}}
	if _, err := d.Fetch(context.Background(), b); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	d.Dir = t.TempDir()
	b.Files[0].SHA256 = strings.Repeat("0", 64)
	if _, err := d.Fetch(context.Background(), b); err == nil || !strings.Contains(err.Error(), "checksum") {
		t.Fatalf("Fetch() error = %v, want checksum mismatch", err)
	}
	if _, err := os.Stat(filepath.Join(d.Dir, "units.txt")); !os.IsNotExist(err) {
		t.Error("bad download was kept")
	}
}

func TestFetchMissing(t *testing.T) {
	srv, _ := newServer(t, map[string]string{})
	d := &Downloader{Client: srv.Client(), Dir: t.TempDir()}
	_, err := d.Fetch(context.Background(), StandardBundle(srv.URL+"/bundle", true))
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("Fetch() error = %v, want HTTP 404", err)
	}
}

func TestStandardBundle(t *testing.T) {
	if n := len(StandardBundle("u", false).Files); n != 2 {
		t.Errorf("files = %d, want 2", n)
	}
	if n := len(StandardBundle("u", true).Files); n != 4 {
		t.Errorf("files with graph = %d, want 4", n)
	}
}
