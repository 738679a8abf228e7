package sources

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/opsprofile/internal/model"
)

const (
	maxVisibleText = 5000
	maxPageText    = 3000
	maxNavItems    = 20
	maxNavLabel    = 50
	spaThreshold   = 200
)

// DefaultLocations are the place names scanned for in visible text.
var DefaultLocations = []string{
	"indiana", "indianapolis", "carmel", "fishers", "noblesville",
	"bloomington", "fort wayne", "south bend", "evansville",
	"chicago", "ohio", "kentucky", "michigan", "illinois",
}

type keyPage int

const (
	pageAbout keyPage = iota
	pageServices
	pageTeam
)

var keyPageKeywords = [...][]string{
	pageAbout:    {"about", "about-us", "who-we-are"},
	pageServices: {"service", "what-we-do", "solutions", "offerings"},
	pageTeam:     {"team", "people", "staff", "our-team"},
}

// Site scrapes the company homepage and up to three key subpages.
type Site struct {
	fetcher   *Fetcher
	locations []string
}

// NewSite creates the website adapter. A nil locations slice uses
// DefaultLocations.
func NewSite(f *Fetcher, locations []string) *Site {
	if locations == nil {
		locations = DefaultLocations
	}
	return &Site{fetcher: f, locations: locations}
}

// Source implements Adapter.
func (s *Site) Source() model.Source { return model.SourceSite }

// Collect implements Adapter.
func (s *Site) Collect(ctx context.Context, company model.Company) (any, error) {
	page, err := s.fetcher.Get(ctx, company.URL)
	if err != nil {
		return nil, eris.Wrap(err, "site")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, eris.Wrap(err, "site: parse html")
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, eris.Wrap(err, "site: parse url")
	}

	doc.Find("script, style, noscript, template").Remove()

	p := &model.SitePayload{
		Title:           collapse(doc.Find("title").First().Text()),
		MetaDescription: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
	}

	text := collapse(doc.Find("body").Text())
	p.IsSPA = utf8.RuneCountInString(text) < spaThreshold
	p.VisibleText = truncate(text, maxVisibleText)
	p.NavigationItems = navItems(doc)

	links, keys := scanLinks(doc, base)
	p.InternalLinks = links

	g, gctx := errgroup.WithContext(ctx)
	texts := make([]string, len(keyPageKeywords))
	for kind, target := range keys {
		if target == "" {
			continue
		}
		g.Go(func() error {
			// Subpage failures leave the field empty.
			texts[kind] = s.pageText(gctx, target)
			return nil
		})
	}
	_ = g.Wait()
	p.AboutContent = texts[pageAbout]
	p.ServicesContent = texts[pageServices]
	p.TeamContent = texts[pageTeam]

	p.LocationMentions = s.mentions(text)

	if p.Title == "" && text == "" {
		return nil, ErrNoData
	}
	return p, nil
}

func (s *Site) pageText(ctx context.Context, target string) string {
	page, err := s.fetcher.Get(ctx, target)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()
	for _, sel := range []string{"main", "article", "body"} {
		if n := doc.Find(sel).First(); n.Length() > 0 {
			return truncate(collapse(n.Text()), maxPageText)
		}
	}
	return ""
}

func (s *Site) mentions(text string) []string {
	lower := strings.ToLower(text)
	title := cases.Title(language.English)
	var out []string
	for _, loc := range s.locations {
		if strings.Contains(lower, loc) {
			out = append(out, title.String(loc))
		}
	}
	return out
}

func navItems(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var out []string
	doc.Find("nav a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := collapse(a.Text())
		if label == "" || len(label) >= maxNavLabel || seen[label] {
			return true
		}
		seen[label] = true
		out = append(out, label)
		return len(out) < maxNavItems
	})
	return out
}

// scanLinks counts unique same-host links and picks the first link matching
// each key page's keywords.
func scanLinks(doc *goquery.Document, base *url.URL) (int, [len(keyPageKeywords)]string) {
	var keys [len(keyPageKeywords)]string
	internal := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if !strings.EqualFold(abs.Host, base.Host) {
			return
		}
		internal[abs.String()] = true

		hint := strings.ToLower(href + " " + a.Text())
		for kind, words := range keyPageKeywords {
			if keys[kind] != "" {
				continue
			}
			for _, w := range words {
				if strings.Contains(hint, w) {
					keys[kind] = abs.String()
					return
				}
			}
		}
	})
	return len(internal), keys
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
