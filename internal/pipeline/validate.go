package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/opsprofile/internal/model"
)

// ratingTolerance absorbs rounding such as 4.7 quoted for 4.68.
const ratingTolerance = 0.05

var (
	// "4.5 stars", "4.5-star", "4.5/5", "4.5 out of 5"
	ratingSuffix = regexp.MustCompile(`(\d(?:\.\d+)?)\s*(?:/\s*5\b|out of 5\b|-?\s*stars?\b)`)
	// "rating of 4.5", "rated 4.5", "rating: 4.5"
	ratingPrefix = regexp.MustCompile(`(?:rating|rated)\s*(?:of|:|is)?\s*(\d(?:\.\d+)?)\b`)
)

var hiringTerms = []string{"hiring", "job posting", "open position", "open role", "recruiting", "job opening"}

// sourceAliases maps phrases the model uses for a source back to it. The
// first source with a matching phrase wins.
var sourceAliases = []struct {
	src     model.Source
	phrases []string
}{
	{model.SourceSite, []string{"website", "site content", "web content"}},
	{model.SourceTech, []string{"technolog", "tech stack", "tech detect"}},
	{model.SourceDNS, []string{"dns", "whois", "domain record", "domain registration", "mx record"}},
	{model.SourcePlaces, []string{"google business", "places", "google review", "business profile"}},
	{model.SourceJobs, []string{"job", "hiring", "career"}},
}

// ValidateProfile cross-checks the document against the evidence it was
// built from. It never rejects: every finding is appended to
// doc.ValidationIssues and the full list is returned.
func ValidateProfile(doc *model.ProfileDoc, ev *model.Evidence) []string {
	var issues []string
	issues = append(issues, checkTechnologies(doc, ev)...)
	issues = append(issues, checkReputation(doc, ev)...)
	issues = append(issues, checkHiring(doc, ev)...)
	issues = append(issues, checkSourcesUsed(doc, ev)...)

	doc.ValidationIssues = append(doc.ValidationIssues, issues...)
	return doc.ValidationIssues
}

func checkTechnologies(doc *model.ProfileDoc, ev *model.Evidence) []string {
	claimed := doc.OperationalSnapshot.DetectedTechnologies
	if len(claimed) == 0 {
		return nil
	}

	tech, ok := model.PayloadOf[*model.TechPayload](ev, model.SourceTech)
	var issues []string
	if !ok {
		for _, name := range claimed {
			issues = append(issues, fmt.Sprintf("Technology '%s' claimed but technology detection was unavailable", name))
		}
		return issues
	}

	known := make(map[string]bool, len(tech.Detected))
	for _, n := range tech.Names() {
		known[strings.ToLower(strings.TrimSpace(n))] = true
	}
	for _, name := range claimed {
		if !known[strings.ToLower(strings.TrimSpace(name))] {
			issues = append(issues, fmt.Sprintf("Technology '%s' not found in detector output", name))
		}
	}
	return issues
}

func checkReputation(doc *model.ProfileDoc, ev *model.Evidence) []string {
	rep := strings.ToLower(doc.MarketPosition.PublicReputation)
	if rep == "" {
		return nil
	}

	places, ok := model.PayloadOf[*model.PlacesPayload](ev, model.SourcePlaces)
	if !ok {
		if mentionsAny(rep, "stars", "rating") && !disclaimsData(rep) {
			return []string{"Profile claims review data but Google Business data was unavailable"}
		}
		return nil
	}
	if places.Rating <= 0 {
		return nil
	}

	for _, quoted := range quotedRatings(rep) {
		if math.Abs(quoted-places.Rating) > ratingTolerance {
			return []string{fmt.Sprintf("Profile rating does not match Google Business rating %s",
				strconv.FormatFloat(places.Rating, 'f', -1, 64))}
		}
	}
	return nil
}

func quotedRatings(text string) []float64 {
	var out []float64
	for _, re := range []*regexp.Regexp{ratingSuffix, ratingPrefix} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil || v > 5 {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

func checkHiring(doc *model.ProfileDoc, ev *model.Evidence) []string {
	if ev.Get(model.SourceJobs).OK() {
		return nil
	}
	growth := strings.ToLower(doc.MarketPosition.GrowthIndicators)
	if mentionsAny(growth, hiringTerms...) && !disclaimsData(growth) {
		return []string{"Profile cites hiring activity but job posting data was unavailable"}
	}
	return nil
}

func checkSourcesUsed(doc *model.ProfileDoc, ev *model.Evidence) []string {
	var issues []string
	for _, name := range doc.DataConfidence.SourcesUsed {
		src, ok := sourceForName(name)
		if ok && !ev.Get(src).OK() {
			issues = append(issues, fmt.Sprintf("Source '%s' listed as used but returned no data", name))
		}
	}
	return issues
}

func sourceForName(name string) (model.Source, bool) {
	n := strings.ToLower(name)
	for _, a := range sourceAliases {
		if mentionsAny(n, a.phrases...) {
			return a.src, true
		}
	}
	return 0, false
}

func mentionsAny(text string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func disclaimsData(text string) bool {
	return mentionsAny(text, "no data", "unavailable")
}
