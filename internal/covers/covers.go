// Package covers looks up a header image for each game on the Steam store.
package covers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
)

const (
	DefaultSearchURL   = "https://store.steampowered.com/search/"
	DefaultConcurrency = 4
	imageURLFormat     = "https://cdn.cloudflare.steamstatic.com/steam/apps/%s/header.jpg"
	maxSearchPage      = 4 << 20
)

var (
	symbols  = regexp.MustCompile(`[:™®©]`)
	editions = regexp.MustCompile(`(?i)\b(definitive|ultimate|complete|edition|goty)\b`)
	appID    = regexp.MustCompile(`^\d+$`)
)

// NormalizeName strips trademark signs and edition words that make store
// searches miss.
func NormalizeName(name string) string {
	name = symbols.ReplaceAllString(name, "")
	name = editions.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

type Options struct {
	Client      *http.Client
	SearchURL   string
	Concurrency int
	Log         *zap.Logger
}

// Enricher fills in ImageURL. Results, including misses, are cached for the
// life of the process and shared by every room.
type Enricher struct {
	client      *http.Client
	searchURL   string
	concurrency int
	log         *zap.Logger

	cache sync.Map // case-folded name -> image url ("" for a miss)
	group singleflight.Group
}

func New(opts Options) *Enricher {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.SearchURL == "" {
		opts.SearchURL = DefaultSearchURL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Enricher{
		client:      opts.Client,
		searchURL:   opts.SearchURL,
		concurrency: opts.Concurrency,
		log:         opts.Log.Named("covers"),
	}
}

// Enrich returns a copy of games with cover images filled in where one was
// found. It never fails; a failed lookup leaves ImageURL empty.
func (e *Enricher) Enrich(ctx context.Context, games []engine.Candidate) []engine.Candidate {
	out := make([]engine.Candidate, len(games))
	copy(out, games)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range out {
		if out[i].ImageURL != "" {
			continue
		}
		g.Go(func() error {
			out[i].ImageURL = e.Lookup(ctx, out[i].Name)
			return nil
		})
	}
	_ = g.Wait()

	found := 0
	for _, c := range out {
		if c.ImageURL != "" {
			found++
		}
	}
	e.log.Info("covers enriched", zap.Int("games", len(out)), zap.Int("found", found))
	return out
}

// Lookup returns the cover for one game name, or "" when none was found.
func (e *Enricher) Lookup(ctx context.Context, name string) string {
	key := cases.Fold().String(strings.TrimSpace(name))
	if key == "" {
		return ""
	}
	if v, ok := e.cache.Load(key); ok {
		return v.(string)
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		img, err := e.search(ctx, name)
		if err != nil {
			e.log.Debug("cover lookup failed", zap.String("game", name), zap.Error(err))
			if ctx.Err() != nil {
				// not the game's fault; try again next time
				return "", nil
			}
		}
		e.cache.Store(key, img)
		return img, nil
	})
	return v.(string)
}

func (e *Enricher) search(ctx context.Context, name string) (string, error) {
	u, err := url.Parse(e.searchURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("term", NormalizeName(name))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("search returned %d", resp.StatusCode)
	}

	id := FirstAppID(io.LimitReader(resp.Body, maxSearchPage))
	if id == "" {
		return "", nil
	}
	return fmt.Sprintf(imageURLFormat, id), nil
}

// FirstAppID scans a store search page for the first result's app id.
func FirstAppID(r io.Reader) string {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			for {
				k, v, more := z.TagAttr()
				if string(k) == "data-ds-appid" && appID.Match(v) {
					return string(v)
				}
				if !more {
					break
				}
			}
		}
	}
}
