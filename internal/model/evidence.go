package model

import (
	"time"
)

// Source identifies one of the data source adapters. The numeric order is
// the fixed presentation order of evidence.
type Source int

const (
	SourceSite Source = iota
	SourceTech
	SourceDNS
	SourcePlaces
	SourceJobs
)

// SourceCount is the number of data sources.
const SourceCount = 5

var sourceNames = [SourceCount]string{"site", "tech", "dns", "places", "jobs"}

var sourceLabels = [SourceCount]string{
	"Website Content",
	"Technology Stack",
	"DNS/WHOIS Records",
	"Google Business Profile",
	"Job Postings",
}

// Sources returns all sources in presentation order.
func Sources() []Source {
	return []Source{SourceSite, SourceTech, SourceDNS, SourcePlaces, SourceJobs}
}

// ParseSource maps a short name ("site", "tech", ...) back to a Source.
func ParseSource(name string) (Source, bool) {
	for i, n := range sourceNames {
		if n == name {
			return Source(i), true
		}
	}
	return 0, false
}

func (s Source) String() string {
	if s < 0 || int(s) >= SourceCount {
		return "unknown"
	}
	return sourceNames[s]
}

// Label is the human-readable name used in profiles and prompts.
func (s Source) Label() string {
	if s < 0 || int(s) >= SourceCount {
		return "Unknown"
	}
	return sourceLabels[s]
}

// Weight is the number of sufficiency points a successful result earns.
func (s Source) Weight() int {
	if s == SourceSite {
		return 2
	}
	return 1
}

// PartialResult is the outcome of one adapter for one submission: either a
// payload or a failure marker.
type PartialResult struct {
	Source   Source        `json:"source"`
	Payload  any           `json:"payload,omitempty"`
	Err      error         `json:"-"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Points   int           `json:"points"`
	Duration time.Duration `json:"duration"`
}

// Success builds a successful PartialResult carrying the source's weight.
func Success(src Source, payload any, d time.Duration) PartialResult {
	return PartialResult{Source: src, Payload: payload, Points: src.Weight(), Duration: d}
}

// Failure builds a failed PartialResult worth zero points.
func Failure(src Source, err error, timedOut bool, d time.Duration) PartialResult {
	return PartialResult{Source: src, Err: err, TimedOut: timedOut, Duration: d}
}

// OK reports whether the adapter produced a payload.
func (r PartialResult) OK() bool {
	return r.Err == nil && r.Payload != nil
}

// ErrorString returns the failure description, or "" on success.
func (r PartialResult) ErrorString() string {
	switch {
	case r.TimedOut:
		return "timed out"
	case r.Err != nil:
		return r.Err.Error()
	case r.Payload == nil:
		return "no data"
	default:
		return ""
	}
}

// Evidence holds one PartialResult per source, indexed by source identity.
type Evidence struct {
	Results [SourceCount]PartialResult
}

// NewEvidence returns evidence with every slot marked as a failure. Slots
// are replaced as adapters report.
func NewEvidence() *Evidence {
	e := &Evidence{}
	for _, s := range Sources() {
		e.Results[s] = Failure(s, nil, false, 0)
	}
	return e
}

// Set stores r in its source's slot.
func (e *Evidence) Set(r PartialResult) {
	e.Results[r.Source] = r
}

// Get returns the result for src.
func (e *Evidence) Get(src Source) PartialResult {
	return e.Results[src]
}

// Succeeded lists sources with a payload, in presentation order.
func (e *Evidence) Succeeded() []Source {
	var out []Source
	for _, r := range e.Results {
		if r.OK() {
			out = append(out, r.Source)
		}
	}
	return out
}

// Absent lists sources without a payload, in presentation order.
func (e *Evidence) Absent() []Source {
	var out []Source
	for _, r := range e.Results {
		if !r.OK() {
			out = append(out, r.Source)
		}
	}
	return out
}

// SourcesUsed returns the labels of successful sources.
func (e *Evidence) SourcesUsed() []string {
	return labels(e.Succeeded())
}

// SourcesUnavailable returns the labels of failed sources.
func (e *Evidence) SourcesUnavailable() []string {
	return labels(e.Absent())
}

func labels(srcs []Source) []string {
	out := make([]string, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, s.Label())
	}
	return out
}

// PayloadOf returns the typed payload of src when that source succeeded.
func PayloadOf[T any](e *Evidence, src Source) (T, bool) {
	var zero T
	r := e.Get(src)
	if !r.OK() {
		return zero, false
	}
	p, ok := r.Payload.(T)
	return p, ok
}

// SitePayload is what the website scraper extracts.
type SitePayload struct {
	Title            string   `json:"title,omitempty"`
	MetaDescription  string   `json:"meta_description,omitempty"`
	VisibleText      string   `json:"visible_text,omitempty"`
	NavigationItems  []string `json:"navigation_items,omitempty"`
	InternalLinks    int      `json:"internal_links_count"`
	AboutContent     string   `json:"about_content,omitempty"`
	ServicesContent  string   `json:"services_content,omitempty"`
	TeamContent      string   `json:"team_content,omitempty"`
	LocationMentions []string `json:"location_mentions,omitempty"`
	IsSPA            bool     `json:"is_spa"`
}

// Technology is one detected technology with its match confidence.
type Technology struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Confidence int      `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// TechPayload is what the technology detector reports.
type TechPayload struct {
	Detected []Technology `json:"detected"`
}

// Names returns the detected technology names.
func (p *TechPayload) Names() []string {
	out := make([]string, 0, len(p.Detected))
	for _, t := range p.Detected {
		out = append(out, t.Name)
	}
	return out
}

// DNSPayload is what the DNS/WHOIS lookup reports.
type DNSPayload struct {
	Domain         string     `json:"domain"`
	MXRecords      []string   `json:"mx_records,omitempty"`
	EmailProvider  string     `json:"email_provider,omitempty"`
	TXTRecords     []string   `json:"txt_records,omitempty"`
	Nameservers    []string   `json:"nameservers,omitempty"`
	HasSPF         bool       `json:"has_spf"`
	HasDMARC       bool       `json:"has_dmarc"`
	Registrar      string     `json:"registrar,omitempty"`
	CreationDate   *time.Time `json:"creation_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	DomainAgeYears int        `json:"domain_age_years,omitempty"`
}

// PlacesPayload is what the business listing lookup reports.
type PlacesPayload struct {
	PlaceID     string  `json:"place_id,omitempty"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Address     string  `json:"address,omitempty"`
	Category    string  `json:"business_category,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Website     string  `json:"website,omitempty"`
}

// JobPosting is a single open position.
type JobPosting struct {
	Title    string `json:"title"`
	Company  string `json:"company,omitempty"`
	Location string `json:"location,omitempty"`
	Posted   string `json:"posted,omitempty"`
}

// JobsPayload is what the job-posting scan reports.
type JobsPayload struct {
	TotalPositions  int          `json:"total_positions"`
	JobTitles       []string     `json:"job_titles,omitempty"`
	Departments     []string     `json:"departments,omitempty"`
	SeniorityLevels []string     `json:"seniority_levels,omitempty"`
	RecentPostings  []JobPosting `json:"recent_postings,omitempty"`
}
