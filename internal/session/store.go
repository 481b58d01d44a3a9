package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar that remembers every cookie it was handed, so the
// full set (expired and session cookies included) can be written back to disk.
type Jar struct {
	mu      sync.Mutex
	jar     *cookiejar.Jar
	entries map[string]storedCookie
}

type storedCookie struct {
	URL      string        `json:"url"`
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Path     string        `json:"path,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Expires  time.Time     `json:"expires"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"http_only,omitempty"`
	SameSite http.SameSite `json:"same_site,omitempty"`
}

// State is the cookie jar restored at process start.
type State struct {
	Jar            *Jar
	LoadedFromDisk bool
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	// cookiejar.New always returns a nil error.
	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Jar{
		jar:     inner,
		entries: make(map[string]storedCookie),
	}
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	origin := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c == nil {
			continue
		}
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}
		key := domain + "|" + c.Path + "|" + c.Name
		j.entries[key] = storedCookie{
			URL:      origin.String(),
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  absoluteExpiry(c, now),
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: c.SameSite,
		}
	}
}

// absoluteExpiry folds Max-Age into Expires so that a restored cookie keeps
// the deadline it was issued with.
func absoluteExpiry(c *http.Cookie, now time.Time) time.Time {
	switch {
	case c.MaxAge > 0:
		return now.Add(time.Duration(c.MaxAge) * time.Second)
	case c.MaxAge < 0:
		return time.Unix(1, 0).UTC()
	default:
		return c.Expires
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Len reports how many cookies the jar will persist.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func (j *Jar) snapshot() []storedCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	keys := make([]string, 0, len(j.entries))
	for k := range j.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]storedCookie, 0, len(keys))
	for _, k := range keys {
		out = append(out, j.entries[k])
	}
	return out
}

// Load restores a jar from path. It never fails: a missing or corrupt file
// yields an empty jar with LoadedFromDisk=false and a logged warning.
func Load(path string, logger *zap.Logger) State {
	if logger == nil {
		logger = zap.NewNop()
	}
	jar := NewJar()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Cookie file unavailable; using empty cookie jar",
			zap.String("path", path), zap.Error(err))
		return State{Jar: jar}
	}

	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Warn("Cookie file is corrupt; using empty cookie jar",
			zap.String("path", path), zap.Error(err))
		return State{Jar: jar}
	}

	for _, sc := range stored {
		u, err := url.Parse(sc.URL)
		if err != nil || u.Host == "" {
			logger.Warn("Skipping cookie with invalid origin", zap.String("url", sc.URL), zap.String("name", sc.Name))
			continue
		}
		jar.SetCookies(u, []*http.Cookie{{
			Name:     sc.Name,
			Value:    sc.Value,
			Path:     sc.Path,
			Domain:   sc.Domain,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
			SameSite: sc.SameSite,
		}})
	}
	logger.Info("Restored cookie jar", zap.String("path", path), zap.Int("cookies", len(stored)))
	return State{Jar: jar, LoadedFromDisk: true}
}

// Save writes every remembered cookie to path, replacing the previous file.
func Save(path string, jar *Jar) error {
	data, err := json.MarshalIndent(jar.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cookie dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write cookies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close cookie file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace cookie file %s: %w", path, err)
	}
	return nil
}
