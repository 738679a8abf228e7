package sources

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/pkg/serpapi"
)

const (
	maxJobTitles     = 10
	maxRecentPosting = 5
	defaultSeniority = "Mid-level"
)

// titleRule assigns a label when a job title contains any of its substrings
// or any of its whole words. Short abbreviations are words so that "hr" does
// not match "three".
type titleRule struct {
	label   string
	phrases []string
	words   []string
}

func (r titleRule) matches(lower string, words map[string]bool) bool {
	for _, p := range r.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, w := range r.words {
		if words[w] {
			return true
		}
	}
	return false
}

var departmentRules = []titleRule{
	{label: "Engineering", phrases: []string{"engineer", "developer", "software", "devops"}, words: []string{"tech", "sre"}},
	{label: "Sales", phrases: []string{"sales", "account", "business development"}},
	{label: "Marketing", phrases: []string{"marketing", "content", "brand", "growth"}, words: []string{"seo"}},
	{label: "Human Resources", phrases: []string{"human resources", "recruiter", "people"}, words: []string{"hr"}},
	{label: "Finance", phrases: []string{"finance", "accounting", "controller"}, words: []string{"cfo"}},
	{label: "Operations", phrases: []string{"operations", "logistics", "supply"}, words: []string{"ops"}},
	{label: "Product", phrases: []string{"product"}, words: []string{"pm"}},
	{label: "Design", phrases: []string{"design", "creative"}, words: []string{"ux", "ui"}},
	{label: "Customer Success", phrases: []string{"customer", "support", "success"}},
}

var seniorityRules = []titleRule{
	{label: "Intern", phrases: []string{"internship"}, words: []string{"intern"}},
	{label: "Junior", phrases: []string{"junior", "entry", "associate"}, words: []string{"jr"}},
	{label: "Senior", phrases: []string{"senior", "principal"}, words: []string{"sr", "lead"}},
	{label: "Manager", phrases: []string{"manager", "director", "head of"}},
	{label: "Executive", phrases: []string{"vice president", "chief"}, words: []string{"vp", "cto", "ceo", "cfo"}},
}

// Jobs scans public job postings for hiring signals.
type Jobs struct {
	client serpapi.Client
}

// NewJobs creates the job posting adapter.
func NewJobs(c serpapi.Client) *Jobs {
	return &Jobs{client: c}
}

// Source implements Adapter.
func (j *Jobs) Source() model.Source { return model.SourceJobs }

// Collect implements Adapter. A search that finds no postings yields
// ErrNoData.
func (j *Jobs) Collect(ctx context.Context, company model.Company) (any, error) {
	if j.client == nil {
		return nil, eris.New("jobs: api key not configured")
	}
	resp, err := j.client.SearchJobs(ctx, company.Name+" jobs")
	if err != nil {
		return nil, eris.Wrap(err, "jobs")
	}
	if resp.Error != "" {
		return nil, eris.Errorf("jobs: search: %s", resp.Error)
	}
	if len(resp.JobsResults) == 0 {
		return nil, ErrNoData
	}
	return Summarize(resp.JobsResults), nil
}

// Summarize builds the hiring summary from raw postings. Only the first ten
// postings are classified.
func Summarize(results []serpapi.JobResult) *model.JobsPayload {
	p := &model.JobsPayload{TotalPositions: len(results)}
	departments := make(map[string]bool)
	seniority := make(map[string]bool)

	for i, job := range results {
		if i == maxJobTitles {
			break
		}
		p.JobTitles = append(p.JobTitles, job.Title)
		if d := Department(job.Title); d != "" {
			departments[d] = true
		}
		seniority[Seniority(job.Title)] = true

		if len(p.RecentPostings) < maxRecentPosting {
			p.RecentPostings = append(p.RecentPostings, model.JobPosting{
				Title:    job.Title,
				Company:  job.CompanyName,
				Location: job.Location,
				Posted:   job.DetectedExtensions.PostedAt,
			})
		}
	}

	p.Departments = sortedKeys(departments)
	p.SeniorityLevels = sortedKeys(seniority)
	return p
}

// Department infers the hiring department from a job title, or "" when no
// rule matches.
func Department(title string) string {
	return classify(title, departmentRules, "")
}

// Seniority infers the seniority level from a job title.
func Seniority(title string) string {
	return classify(title, seniorityRules, defaultSeniority)
}

func classify(title string, rules []titleRule, fallback string) string {
	lower := strings.ToLower(title)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	for _, r := range rules {
		if r.matches(lower, words) {
			return r.label
		}
	}
	return fallback
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
