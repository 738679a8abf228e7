package sources

import (
	"bytes"
	"context"
	_ "embed"
	"net/http"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/opsprofile/internal/model"
)

// Match weights and limits for fingerprint scoring.
const (
	headerWeight   = 30
	htmlWeight     = 25
	metaWeight     = 30
	minConfidence  = 25
	maxConfidence  = 100
	maxEvidence    = 3
	maxPatternEcho = 30
)

//go:embed signatures.yaml
var signaturesYAML []byte

// FieldRule matches a header or meta field by name and optional value.
type FieldRule struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Prefix bool   `yaml:"prefix"`
}

// Signature fingerprints one technology.
type Signature struct {
	Name     string      `yaml:"name"`
	Category string      `yaml:"category"`
	Headers  []FieldRule `yaml:"headers"`
	HTML     []string    `yaml:"html"`
	Meta     []FieldRule `yaml:"meta"`
}

// LoadSignatures parses a YAML signature table.
func LoadSignatures(data []byte) ([]Signature, error) {
	var sigs []Signature
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return nil, eris.Wrap(err, "tech: parse signatures")
	}
	for i, s := range sigs {
		if s.Name == "" {
			return nil, eris.Errorf("tech: signature %d has no name", i)
		}
	}
	return sigs, nil
}

// DefaultSignatures returns the embedded signature table.
func DefaultSignatures() []Signature {
	sigs, err := LoadSignatures(signaturesYAML)
	if err != nil {
		panic(err)
	}
	return sigs
}

// Tech detects technologies from response headers, page source and meta
// tags of the company homepage.
type Tech struct {
	fetcher    *Fetcher
	signatures []Signature
}

// NewTech creates the technology adapter.
func NewTech(f *Fetcher, signatures []Signature) *Tech {
	return &Tech{fetcher: f, signatures: signatures}
}

// Source implements Adapter.
func (t *Tech) Source() model.Source { return model.SourceTech }

// Collect implements Adapter.
func (t *Tech) Collect(ctx context.Context, company model.Company) (any, error) {
	page, err := t.fetcher.Get(ctx, company.URL)
	if err != nil {
		return nil, eris.Wrap(err, "tech")
	}

	detected := Detect(t.signatures, page.Header, page.Body, metaTags(page.Body))
	if len(detected) == 0 {
		return nil, ErrNoData
	}
	return &model.TechPayload{Detected: detected}, nil
}

// Detect scores every signature against a response and returns matches
// sorted by descending confidence.
func Detect(sigs []Signature, header http.Header, body []byte, meta map[string]string) []model.Technology {
	html := strings.ToLower(string(body))

	var out []model.Technology
	for _, sig := range sigs {
		confidence := 0
		var evidence []string

		for _, rule := range sig.Headers {
			if headerMatches(header, rule) {
				confidence += headerWeight
				evidence = append(evidence, "header:"+rule.Name)
			}
		}
		for _, pattern := range sig.HTML {
			if strings.Contains(html, strings.ToLower(pattern)) {
				confidence += htmlWeight
				evidence = append(evidence, "html:"+truncate(pattern, maxPatternEcho))
			}
		}
		for _, rule := range sig.Meta {
			v, ok := meta[strings.ToLower(rule.Name)]
			if ok && containsFold(v, rule.Value) {
				confidence += metaWeight
				evidence = append(evidence, "meta:"+rule.Name)
			}
		}

		if confidence < minConfidence {
			continue
		}
		if len(evidence) > maxEvidence {
			evidence = evidence[:maxEvidence]
		}
		out = append(out, model.Technology{
			Name:       sig.Name,
			Category:   sig.Category,
			Confidence: min(confidence, maxConfidence),
			Evidence:   evidence,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func headerMatches(header http.Header, rule FieldRule) bool {
	for name, values := range header {
		matched := strings.EqualFold(name, rule.Name)
		if rule.Prefix {
			matched = strings.HasPrefix(strings.ToLower(name), strings.ToLower(rule.Name))
		}
		if matched && containsFold(strings.Join(values, ","), rule.Value) {
			return true
		}
	}
	return false
}

// containsFold reports whether s contains sub ignoring case. An empty sub
// always matches.
func containsFold(s, sub string) bool {
	return sub == "" || strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// metaTags maps lowercased meta names to their content.
func metaTags(body []byte) map[string]string {
	out := make(map[string]string)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return out
	}
	doc.Find("meta[name]").Each(func(_ int, m *goquery.Selection) {
		name, _ := m.Attr("name")
		out[strings.ToLower(name)] = m.AttrOr("content", "")
	})
	return out
}
