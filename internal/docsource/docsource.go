// Package docsource turns a shared Google Doc holding a games table into a
// candidate pool.
package docsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/ids"
)

var ErrBadLink = fault.New(fault.Validation, "please paste an http(s) Google Doc link")
var ErrUnreachable = fault.New(fault.External, "the document could not be loaded (check its sharing settings)")
var ErrTooFewRows = fault.New(fault.External, "too few games found (expected a table with NAME and PRICE columns)")

const (
	UserAgent       = "Mozilla/5.0"
	DefaultTimeout  = 15 * time.Second
	maxDocumentSize = 10 << 20
	minGames        = 2
)

var (
	docLink   = regexp.MustCompile(`(?i)^https?://docs\.google\.com/document/`)
	published = regexp.MustCompile(`(?i)/document/d/e/`)
	docID     = regexp.MustCompile(`(?i)/document/d/([a-zA-Z0-9_-]+)`)
	price     = regexp.MustCompile(`\d{1,4}[.,]\d{2}`)
)

// ExportURL validates link and returns the URL its HTML export is served at.
// Published links (/d/e/.../pub) are already HTML and are returned as is.
func ExportURL(link string) (string, error) {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !docLink.MatchString(link) {
		return "", ErrBadLink
	}
	if published.MatchString(link) && strings.Contains(strings.ToLower(u.Path), "/pub") {
		return link, nil
	}
	if m := docID.FindStringSubmatch(link); m != nil {
		return "https://docs.google.com/document/d/" + m[1] + "/export?format=html", nil
	}
	return link, nil
}

type Loader struct {
	client *http.Client
	log    *zap.Logger
	newID  func() string
}

func NewLoader(client *http.Client, log *zap.Logger) *Loader {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{client: client, log: log.Named("docsource"), newID: ids.Short}
}

// Load fetches the document behind link and parses its table rows.
func (l *Loader) Load(ctx context.Context, link string) ([]engine.Candidate, error) {
	target, err := ExportURL(link)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLink, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		l.log.Warn("document fetch failed", zap.String("url", target), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.log.Warn("document fetch rejected", zap.String("url", target), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	games, err := Parse(io.LimitReader(resp.Body, maxDocumentSize), l.newID)
	if err != nil {
		return nil, err
	}
	l.log.Info("document loaded",
		zap.String("url", target),
		zap.Int("games", len(games)),
		zap.Duration("took", time.Since(start)))
	return games, nil
}

// Parse reads every table row of an HTML document. The first cell is the
// game's name and the second holds its prices.
func Parse(r io.Reader, newID func() string) ([]engine.Candidate, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	fold := cases.Fold()
	seen := map[string]bool{}
	var games []engine.Candidate

	for _, row := range rows(doc) {
		cells := cellTexts(row)
		if len(cells) == 0 {
			continue
		}
		name := cells[0]
		if name == "" || isHeader(name) {
			continue
		}
		key := fold.String(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		g := engine.Candidate{ID: newID(), Name: name}
		if len(cells) > 1 {
			g.NormalPrice, g.SalePrice = splitPrices(ParsePrices(cells[1]))
		}
		games = append(games, g)
	}

	if len(games) < minGames {
		return nil, ErrTooFewRows
	}
	return games, nil
}

func isHeader(name string) bool {
	upper := strings.ToUpper(name)
	return upper == "NAME" || strings.Contains(upper, "LAN PARTY") || strings.Contains(upper, "SPIELE")
}

// ParsePrices returns every price-looking number in text. Both "19.99" and
// "19,99" are understood.
func ParsePrices(text string) []float64 {
	var out []float64
	for _, m := range price.FindAllString(text, -1) {
		f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err == nil {
			out = append(out, f)
		}
	}
	return out
}

// splitPrices takes the highest price as the normal one and the lowest as
// the sale price, if there is more than one distinct price.
func splitPrices(prices []float64) (normal, sale *float64) {
	if len(prices) == 0 {
		return nil, nil
	}
	hi, lo := slices.Max(prices), slices.Min(prices)
	normal = &hi
	if len(prices) >= 2 && lo != hi {
		sale = &lo
	}
	return normal, sale
}

func rows(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func cellTexts(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, text(c))
		}
	}
	return cells
}

// text flattens a node to whitespace-collapsed plain text. Block elements and
// line breaks separate words.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style:
				return
			case atom.Br:
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.P, atom.Div, atom.Li:
				b.WriteByte(' ')
			}
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
