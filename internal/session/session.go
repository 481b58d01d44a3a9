// Package session owns the authenticated HTTP client used to talk to the
// gallery site: fixed browser headers, a capped redirect chain, and a cookie
// jar that survives between runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ErrLoginFailed is returned when the login response lacks the success marker.
var ErrLoginFailed = errors.New("login failed")

// Limiter gates outbound requests. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the session client.
type Config struct {
	BaseURL        string
	LoginPath      string
	LogoutPath     string
	Referer        string
	UserAgent      string
	Platform       string
	AcceptLanguage string
	MaxRedirects   int
	Timeout        time.Duration
	CookiePath     string
	SuccessMarker  string
}

// Session is a single logged-in (or restored) browsing session.
type Session struct {
	cfg           Config
	jar           *Jar
	restored      bool
	baseCollector *colly.Collector
	limiter       Limiter
	logger        *zap.Logger
}

// Open restores the cookie jar from cfg.CookiePath and builds the client.
// Callers must Close the session so the jar is written back.
func Open(cfg Config, limiter Limiter, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	state := Load(cfg.CookiePath, logger)

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.UserAgent = cfg.UserAgent
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.SetCookieJar(state.Jar)
	c.SetRedirectHandler(capRedirects(cfg.MaxRedirects))

	return &Session{
		cfg:           cfg,
		jar:           state.Jar,
		restored:      state.LoadedFromDisk,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Restored reports whether the cookie jar was loaded from disk.
func (s *Session) Restored() bool { return s.restored }

// Jar exposes the live cookie jar.
func (s *Session) Jar() *Jar { return s.jar }

// URL joins path onto the configured base URL.
func (s *Session) URL(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Get fetches rawURL and returns the response body. Failures are returned,
// never retried.
func (s *Session) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return s.do(ctx, rawURL, nil)
}

// Login posts the credentials unless the session was restored from disk.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if s.restored {
		s.logger.Info("Reusing restored session; skipping login")
		return nil
	}
	form := map[string]string{
		"action":   "user_login",
		"username": username,
		"password": password,
	}
	body, err := s.do(ctx, s.URL(s.cfg.LoginPath), form)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if !strings.Contains(string(body), s.cfg.SuccessMarker) {
		return fmt.Errorf("%w: response did not contain success marker", ErrLoginFailed)
	}
	s.logger.Info("Logged in", zap.String("username", username))
	return nil
}

// Logout ends the server-side session.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.do(ctx, s.URL(s.cfg.LogoutPath), nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.logger.Info("Logged out")
	return nil
}

// Close persists the cookie jar. A write failure is logged and returned but
// the caller is not expected to act on it.
func (s *Session) Close() error {
	if err := Save(s.cfg.CookiePath, s.jar); err != nil {
		s.logger.Error("Failed to save cookie jar", zap.String("path", s.cfg.CookiePath), zap.Error(err))
		return err
	}
	s.logger.Debug("Saved cookie jar", zap.String("path", s.cfg.CookiePath), zap.Int("cookies", s.jar.Len()))
	return nil
}

func (s *Session) do(ctx context.Context, rawURL string, form map[string]string) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	var (
		body     []byte
		fetchErr error
	)
	collector := s.baseCollector.Clone()
	collector.OnRequest(func(r *colly.Request) {
		s.applyHeaders(r)
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		if form != nil {
			done <- collector.Post(rawURL, form)
			return
		}
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("request %s failed: %w", rawURL, fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("request %s failed: %w", rawURL, err)
		}
		return body, nil
	}
}

func (s *Session) applyHeaders(r *colly.Request) {
	if s.cfg.Referer != "" {
		r.Headers.Set("Referer", s.cfg.Referer)
	}
	if s.cfg.Platform != "" {
		r.Headers.Set("Sec-Ch-Ua-Platform", s.cfg.Platform)
	}
	if s.cfg.AcceptLanguage != "" {
		r.Headers.Set("Accept-Language", s.cfg.AcceptLanguage)
	}
}

func capRedirects(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
