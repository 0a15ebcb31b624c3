// Package models fetches model bundles over HTTP into a local directory.
package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// File is one file of a bundle. SHA256, when set, is checked after download.
type File struct {
	Name   string
	SHA256 string
}

// Bundle lists the files published under BaseURL.
type Bundle struct {
	BaseURL string
	Files   []File
}

// StandardBundle is a prefix search bundle, plus the automaton and its word
// table when withGraph is set.
func StandardBundle(baseURL string, withGraph bool) Bundle {
	b := Bundle{BaseURL: baseURL, Files: []File{{Name: "model.json"}, {Name: "units.txt"}}}
	if withGraph {
		b.Files = append(b.Files, File{Name: "TLG.txt"}, File{Name: "words.txt"})
	}
	return b
}

// Downloader writes bundle files into Dir. Progress goes to Progress when
// it is non-nil.
type Downloader struct {
	Client   *http.Client
	Dir      string
	Progress io.Writer
}

// Fetch downloads every file of b that is not already present in Dir and
// returns the local paths in bundle order.
func (d *Downloader) Fetch(ctx context.Context, b Bundle) ([]string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating models dir: %w", err)
	}
	paths := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		dest := filepath.Join(d.Dir, f.Name)
		paths = append(paths, dest)

		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			d.printf("  %s already exists (%.1f MB)\n", dest, mb(info.Size()))
			continue
		}
		url := strings.TrimSuffix(b.BaseURL, "/") + "/" + f.Name
		if err := d.fetchFile(ctx, url, dest, f.SHA256); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", f.Name, err)
		}
	}
	return paths, nil
}

func (d *Downloader) fetchFile(ctx context.Context, url, dest, sum string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	// Write to temp file first, then rename
	tmpPath := dest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	hash := sha256.New()
	pw := &progressWriter{
		writer: io.MultiWriter(f, hash),
		out:    d.Progress,
		total:  resp.ContentLength,
		label:  filepath.Base(dest),
	}
	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing file: %w", err)
	}
	d.printf("\n  Downloaded %.1f MB\n", mb(written))

	if sum != "" {
		if got := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(got, sum) {
			os.Remove(tmpPath)
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, sum)
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving file: %w", err)
	}
	return nil
}

func (d *Downloader) printf(format string, args ...any) {
	if d.Progress != nil {
		fmt.Fprintf(d.Progress, format, args...)
	}
}

func mb(n int64) float64 { return float64(n) / (1024 * 1024) }

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.out == nil {
		return n, err
	}
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)", pw.label, mb(pw.written), mb(pw.total), pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded", pw.label, mb(pw.written))
	}
	return n, err
}
