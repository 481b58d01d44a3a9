package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediaharvest/internal/manifest"
	"github.com/JakeFAU/mediaharvest/internal/progress"
)

const testBase = "https://gallery.test"

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if err, ok := f.fail[rawURL]; ok {
		return nil, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", rawURL)
	}
	return []byte(body), nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) byStage(stage progress.Stage) []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []progress.Event
	for _, e := range c.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		BaseURL:     testBase,
		LandingPath: "/%s?ref=cosjun",
		PagePath:    "/%s/page/%d?ref=cosjun",
		Selectors: Selectors{
			Pagination: ".numeric-pagination .page-numbers > li",
			Entry:      ".entry-wrapper .entry-title a",
			Image:      ".gallery-icon > a",
			Video:      "video > a",
		},
		PageDelay: time.Second,
		ItemDelay: 2 * time.Second,
	}
}

func landingHTML(pages int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="numeric-pagination"><ul class="page-numbers">`)
	for i := 1; i <= pages; i++ {
		fmt.Fprintf(&b, `<li><a href="/tag/page/%d">%d</a></li>`, i, i)
	}
	b.WriteString(`<li><a class="next" href="/tag/page/2">Next</a></li></ul></div></body></html>`)
	return b.String()
}

func listingHTML(titles ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	for _, t := range titles {
		fmt.Fprintf(&b, `<div class="entry-wrapper"><h2 class="entry-title"><a title="%s" href="/item/%s">%s</a></h2></div>`, t, t, t)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func itemHTML(images, videos []string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="gallery">`)
	for _, u := range images {
		fmt.Fprintf(&b, `<div class="gallery-icon"><a href="%s"><img src="%s"></a></div>`, u, u)
	}
	b.WriteString(`</div>`)
	for _, u := range videos {
		fmt.Fprintf(&b, `<video><a href="%s">download</a></video>`, u)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func TestDiscoverTotalPages(t *testing.T) {
	f := newFakeFetcher()
	f.pages[testBase+"/cos?ref=cosjun"] = landingHTML(7)
	pc := NewPageCrawler(testConfig(), f, Options{Pauser: &recordingPauser{}})

	total, err := pc.DiscoverTotalPages(context.Background(), "cos")
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}

func TestDiscoverTotalPagesFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{name: "no pagination", body: `<html><body>nothing</body></html>`},
		{name: "not a number", body: `<div class="numeric-pagination"><ul class="page-numbers"><li>x</li><li>next</li></ul></div>`},
		{name: "fetch failure", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			landing := testBase + "/cos?ref=cosjun"
			if tt.err != nil {
				f.fail[landing] = tt.err
			} else {
				f.pages[landing] = tt.body
			}
			pc := NewPageCrawler(testConfig(), f, Options{Pauser: &recordingPauser{}})
			_, err := pc.DiscoverTotalPages(context.Background(), "cos")
			require.Error(t, err)
			if tt.err == nil {
				assert.ErrorIs(t, err, ErrNoPagination)
			}
		})
	}
}

func TestWalkVisitsPagesInOrderUpToCap(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		maxPage int
		want    int
	}{
		{name: "unbounded", total: 4, maxPage: Unbounded, want: 4},
		{name: "capped", total: 4, maxPage: 2, want: 2},
		{name: "cap above total", total: 3, maxPage: 10, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			f.pages[testBase+"/cos?ref=cosjun"] = landingHTML(tt.total)
			for i := 1; i <= tt.total; i++ {
				f.pages[fmt.Sprintf("%s/cos/page/%d?ref=cosjun", testBase, i)] = listingHTML(fmt.Sprintf("p%d", i))
			}
			pauser := &recordingPauser{}
			pc := NewPageCrawler(testConfig(), f, Options{Pauser: pauser})

			items, err := pc.Walk(context.Background(), "cos", tt.maxPage)
			require.NoError(t, err)
			require.Len(t, items, tt.want)

			calls := f.Calls()
			require.Len(t, calls, tt.want+1)
			for i := 1; i <= tt.want; i++ {
				assert.Equal(t, fmt.Sprintf("%s/cos/page/%d?ref=cosjun", testBase, i), calls[i])
				assert.Equal(t, fmt.Sprintf("p%d", i), items[i-1].Title)
				assert.Equal(t, fmt.Sprintf("%s/item/p%d", testBase, i), items[i-1].SourceURL)
			}
			assert.Len(t, pauser.delays, tt.want-1)
		})
	}
}

func TestWalkSkipsFailedPage(t *testing.T) {
	f := newFakeFetcher()
	f.pages[testBase+"/cos?ref=cosjun"] = landingHTML(3)
	f.pages[testBase+"/cos/page/1?ref=cosjun"] = listingHTML("a")
	f.fail[testBase+"/cos/page/2?ref=cosjun"] = errors.New("503")
	f.pages[testBase+"/cos/page/3?ref=cosjun"] = listingHTML("c", "d")
	emitter := &captureEmitter{}
	pc := NewPageCrawler(testConfig(), f, Options{
		Pauser:   &recordingPauser{},
		Reporter: progress.Reporter{RunID: [16]byte{1}, Emitter: emitter},
	})

	items, err := pc.Walk(context.Background(), "cos", Unbounded)
	require.NoError(t, err)
	assert.Equal(t, []Item{
		{Title: "a", SourceURL: testBase + "/item/a"},
		{Title: "c", SourceURL: testBase + "/item/c"},
		{Title: "d", SourceURL: testBase + "/item/d"},
	}, items)
	assert.Len(t, emitter.byStage(progress.StagePageListed), 2)
}

func TestWalkStopsOnCancel(t *testing.T) {
	f := newFakeFetcher()
	f.pages[testBase+"/cos?ref=cosjun"] = landingHTML(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pc := NewPageCrawler(testConfig(), f, Options{Pauser: &recordingPauser{}})

	_, err := pc.Walk(ctx, "cos", Unbounded)
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessWritesManifests(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	f.pages[testBase+"/item/a"] = itemHTML(
		[]string{"https://cdn.test/a1.jpg", "/rel/a2.jpg"},
		[]string{"https://cdn.test/a.mp4"},
	)
	f.pages[testBase+"/item/b"] = itemHTML([]string{"https://cdn.test/b1.jpg"}, nil)
	emitter := &captureEmitter{}
	pauser := &recordingPauser{}
	proc := NewItemProcessor(testConfig(), f, root, Options{
		Pauser:   pauser,
		Reporter: progress.Reporter{RunID: [16]byte{1}, Emitter: emitter},
	})

	sum, err := proc.Process(context.Background(), "cos", []Item{
		{Title: "a", SourceURL: testBase + "/item/a"},
		{Title: "b", SourceURL: testBase + "/item/b"},
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2}, sum)

	imgs, err := manifest.Read(filepath.Join(root, "cos", "a", manifest.CategoryImages, manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/a1.jpg", testBase + "/rel/a2.jpg"}, imgs)

	videos, err := manifest.Read(filepath.Join(root, "cos", "a", manifest.CategoryVideos, manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/a.mp4"}, videos)

	_, err = os.Stat(filepath.Join(root, "cos", "b", manifest.CategoryVideos))
	assert.True(t, os.IsNotExist(err), "empty category must not create a directory")

	assert.Len(t, emitter.byStage(progress.StageManifestLine), 4)
	assert.Len(t, emitter.byStage(progress.StageManifestDone), 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, pauser.delays)
}

func TestProcessIsIdempotent(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	f.pages[testBase+"/item/a"] = itemHTML([]string{"https://cdn.test/a1.jpg"}, nil)
	items := []Item{{Title: "a", SourceURL: testBase + "/item/a"}}
	proc := NewItemProcessor(testConfig(), f, root, Options{Pauser: &recordingPauser{}})

	_, err := proc.Process(context.Background(), "cos", items)
	require.NoError(t, err)
	path := filepath.Join(root, "cos", "a", manifest.CategoryImages, manifest.FileName)
	before, err := os.Stat(path)
	require.NoError(t, err)

	f.pages[testBase+"/item/a"] = itemHTML([]string{"https://cdn.test/changed.jpg"}, nil)
	sum, err := proc.Process(context.Background(), "cos", items)
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 1}, sum)
	assert.Len(t, f.Calls(), 1, "existing item must not be fetched again")

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	got, err := manifest.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/a1.jpg"}, got)
}

func TestProcessDropsFailedItemsAndContinues(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	f.fail[testBase+"/item/bad"] = errors.New("timeout")
	f.pages[testBase+"/item/good"] = itemHTML([]string{"https://cdn.test/g.jpg"}, nil)
	proc := NewItemProcessor(testConfig(), f, root, Options{Pauser: &recordingPauser{}})

	sum, err := proc.Process(context.Background(), "cos", []Item{
		{Title: "bad", SourceURL: testBase + "/item/bad"},
		{Title: "..", SourceURL: testBase + "/item/dots"},
		{Title: "good", SourceURL: testBase + "/item/good"},
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Failed: 2}, sum)

	_, err = os.Stat(filepath.Join(root, "cos", "bad"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "cos", "good", manifest.CategoryImages, manifest.FileName))
	assert.NoError(t, err)
}

func TestRunEndToEnd(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	f.pages[testBase+"/cos?ref=cosjun"] = landingHTML(1)
	f.pages[testBase+"/cos/page/1?ref=cosjun"] = listingHTML("a", "b")
	f.pages[testBase+"/item/a"] = itemHTML([]string{"u1", "u2"}, nil)
	f.pages[testBase+"/item/b"] = itemHTML(nil, []string{"v1"})
	cfg := testConfig()
	opts := Options{Pauser: &recordingPauser{}}

	sum, err := Run(context.Background(), NewPageCrawler(cfg, f, opts), NewItemProcessor(cfg, f, root, opts), "cos", Unbounded)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)

	f.fail[testBase+"/cos?ref=cosjun"] = errors.New("down")
	_, err = Run(context.Background(), NewPageCrawler(cfg, f, opts), NewItemProcessor(cfg, f, root, opts), "cos", Unbounded)
	require.Error(t, err)
}

func TestDirName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Summer Set", want: "Summer Set"},
		{in: " a/b\\c ", want: "a_b_c"},
		{in: "..", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := DirName(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTimerPauserHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	TimerPauser{}.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second)
}
