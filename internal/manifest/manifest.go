// Package manifest reads and writes the line-delimited media URL lists that
// mark an item category as ready for retrieval.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the name every manifest is published under. Its presence is
// the only signal the compactor looks for.
const FileName = "info.txt"

// Categories written by the crawler.
const (
	CategoryImages = "imgs"
	CategoryVideos = "videos"
)

// LineFunc is called after each URL is written, with its 1-based position.
type LineFunc func(n int, url string)

// Write creates dir if needed and publishes urls as dir/info.txt. The list is
// written to a temporary file first and renamed into place after it is
// flushed and synced, so readers never observe a partial manifest.
func Write(dir string, urls []string, onLine LineFunc) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create manifest dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+FileName+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	w := bufio.NewWriter(tmp)
	for i, u := range urls {
		if _, err := w.WriteString(u + "\n"); err != nil {
			cleanup()
			return "", fmt.Errorf("write manifest line: %w", err)
		}
		if onLine != nil {
			onLine(i+1, u)
		}
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return "", fmt.Errorf("flush manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close manifest: %w", err)
	}

	final := filepath.Join(dir, FileName)
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("publish manifest %s: %w", final, err)
	}
	return final, nil
}

// Read returns the non-empty lines of the manifest at path, in order.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return urls, nil
}
