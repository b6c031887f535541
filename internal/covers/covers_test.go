package covers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
)

const searchPage = `<html><body>
<div id="search_resultsRows">
  <a href="https://store.steampowered.com/sub/1/" data-ds-appid="10,20" class="search_result_row">bundle</a>
  <a href="https://store.steampowered.com/app/548430/" data-ds-appid="548430" class="search_result_row">Deep Rock Galactic</a>
  <a href="https://store.steampowered.com/app/1/" data-ds-appid="1">Other</a>
</div>
</body></html>`

type fakeStore struct {
	mu       sync.Mutex
	terms    []string
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	page     func(term string) (int, string)
}

func (s *fakeStore) RoundTrip(r *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	term := r.URL.Query().Get("term")
	s.mu.Lock()
	s.terms = append(s.terms, term)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	status, body := http.StatusOK, searchPage
	if s.page != nil {
		status, body = s.page(term)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}, nil
}

func newEnricher(store *fakeStore, concurrency int) *Enricher {
	return New(Options{
		Client:      &http.Client{Transport: store},
		SearchURL:   "https://store.test/search/",
		Concurrency: concurrency,
	})
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "The Witcher 3 Wild Hunt", NormalizeName("The Witcher® 3: Wild Hunt GOTY Edition"))
	assert.Equal(t, "Age of Empires II", NormalizeName("Age of Empires II: Definitive Edition"))
	assert.Equal(t, "Portal 2", NormalizeName("  Portal™   2 "))
}

func TestFirstAppID(t *testing.T) {
	assert.Equal(t, "548430", FirstAppID(strings.NewReader(searchPage)))
	assert.Equal(t, "", FirstAppID(strings.NewReader(`<div>no results</div>`)))
}

func TestLookup_CachesByFoldedName(t *testing.T) {
	store := &fakeStore{}
	e := newEnricher(store, 2)
	ctx := context.Background()

	img := e.Lookup(ctx, "Deep Rock Galactic")
	assert.Equal(t, "https://cdn.cloudflare.steamstatic.com/steam/apps/548430/header.jpg", img)
	assert.Equal(t, img, e.Lookup(ctx, "DEEP ROCK GALACTIC"))
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestLookup_MissIsCachedAndEmpty(t *testing.T) {
	store := &fakeStore{page: func(string) (int, string) { return http.StatusServiceUnavailable, "" }}
	e := newEnricher(store, 2)

	assert.Empty(t, e.Lookup(context.Background(), "Obscure Game"))
	assert.Empty(t, e.Lookup(context.Background(), "obscure game"))
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestLookup_SendsNormalizedTerm(t *testing.T) {
	store := &fakeStore{}
	e := newEnricher(store, 1)
	e.Lookup(context.Background(), "Portal™ 2: Complete Edition")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.terms, 1)
	assert.Equal(t, "Portal 2", store.terms[0])
}

func TestEnrich_BoundedAndTolerant(t *testing.T) {
	store := &fakeStore{
		delay: 20 * time.Millisecond,
		page: func(term string) (int, string) {
			if strings.HasPrefix(term, "Broken") {
				return http.StatusInternalServerError, ""
			}
			return http.StatusOK, searchPage
		},
	}
	e := newEnricher(store, 2)

	games := []engine.Candidate{
		{ID: "1", Name: "Game One"},
		{ID: "2", Name: "Game Two"},
		{ID: "3", Name: "Broken Game"},
		{ID: "4", Name: "Game Four", ImageURL: "https://already.test/x.jpg"},
		{ID: "5", Name: "Game Five"},
	}
	out := e.Enrich(context.Background(), games)

	require.Len(t, out, 5)
	assert.NotEmpty(t, out[0].ImageURL)
	assert.NotEmpty(t, out[1].ImageURL)
	assert.Empty(t, out[2].ImageURL)
	assert.Equal(t, "https://already.test/x.jpg", out[3].ImageURL)
	assert.NotEmpty(t, out[4].ImageURL)
	assert.Empty(t, games[0].ImageURL, "input must not be modified")

	assert.Equal(t, int32(4), store.calls.Load())
	assert.LessOrEqual(t, store.maxSeen.Load(), int32(2))
}

func TestLookup_CoalescesConcurrentDuplicates(t *testing.T) {
	store := &fakeStore{delay: 50 * time.Millisecond}
	e := newEnricher(store, 8)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotEmpty(t, e.Lookup(context.Background(), "Valheim"))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), store.calls.Load())
}
