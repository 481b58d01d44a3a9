package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrNoPagination is returned when the landing page has no usable page count.
var ErrNoPagination = errors.New("pagination not found")

// Unbounded disables the page cap in Walk.
const Unbounded = -1

// Item is one gallery entry discovered on a listing page.
type Item struct {
	Title     string
	SourceURL string
}

// Fetcher returns the body of a GET request. *session.Session satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Selectors are the CSS selectors used against site pages.
type Selectors struct {
	Pagination string
	Entry      string
	Image      string
	Video      string
}

// Config describes the site layout and politeness delays.
type Config struct {
	BaseURL     string
	LandingPath string // fmt pattern taking the tag
	PagePath    string // fmt pattern taking the tag and page number
	Selectors   Selectors
	PageDelay   time.Duration
	ItemDelay   time.Duration
}

func (c Config) landingURL(tag string) string {
	return strings.TrimRight(c.BaseURL, "/") + fmt.Sprintf(c.LandingPath, url.PathEscape(tag))
}

func (c Config) pageURL(tag string, page int) string {
	return strings.TrimRight(c.BaseURL, "/") + fmt.Sprintf(c.PagePath, url.PathEscape(tag), page)
}

// DirName converts an item title into a single safe path element.
func DirName(title string) (string, error) {
	name := strings.TrimSpace(title)
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("unusable item title %q", title)
	}
	return name, nil
}

func resolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base == nil {
		return ref.String(), true
	}
	return base.ResolveReference(ref).String(), true
}
