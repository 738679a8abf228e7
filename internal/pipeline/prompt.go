package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
)

const systemPrompt = `You are an operational intelligence analyst. You receive raw data collected from public sources about a business. Your job is to produce a structured operational profile that demonstrates analytical depth and insight.

You must return ONLY valid JSON matching the schema below. No preamble, no markdown, no explanation outside the JSON.

Your analysis should:
- Draw non-obvious inferences from the data (e.g., MX records showing Google Workspace suggests cloud-forward operations; job postings for specific roles suggest strategic priorities)
- Identify operational strengths visible in the data
- Identify potential blind spots or areas where data suggests vulnerability
- Compare against general industry baselines where possible
- Be specific and grounded. Never fabricate data points
- Only list technologies that appear in the Technology Stack data
- Note where confidence is low due to limited data, and list sources that returned nothing under sources_unavailable

Profile JSON Schema:
{
  "company_name": "string",
  "industry_classification": "string",
  "location": "string",
  "estimated_size": "string (e.g., '10-50 employees', 'Solo operator', '50-200 employees')",
  "operational_snapshot": {
    "technology_posture": "string (2-3 sentence assessment of their technology stack and what it implies)",
    "digital_maturity": "string (1-10 rating with one-sentence justification)",
    "detected_technologies": ["array of strings"],
    "infrastructure_signals": "string (what DNS/hosting/email setup implies about operational sophistication)"
  },
  "market_position": {
    "business_category": "string",
    "public_reputation": "string (review data summary and what it implies)",
    "competitive_signals": "string (2-3 sentences on what the data suggests about their competitive position)",
    "growth_indicators": "string (hiring activity, web presence expansion, etc.)"
  },
  "strategic_observations": [
    "string (3-5 non-obvious observations drawn from the data, each 1-2 sentences)"
  ],
  "identified_gaps": [
    "string (2-3 areas where deeper analysis would reveal important insights, framed as opportunities not criticisms)"
  ],
  "data_confidence": {
    "overall_score": "string (High/Medium/Low)",
    "sources_used": ["array of source names"],
    "sources_unavailable": ["array of source names that returned no data"],
    "freshness": "string (e.g., 'Data collected February 2026')"
  }
}`

// SystemPrompt returns the analyst instructions sent with every synthesis
// request.
func SystemPrompt() string { return systemPrompt }

// rawData is the evidence section of the user message. Only successful
// payloads are embedded; failed sources are named so the model can say so.
type rawData struct {
	Sources            json.RawMessage `json:"sources"`
	SourcesUnavailable []string        `json:"sources_unavailable"`
}

// UserMessage renders the per-company request. now supplies the month the
// model uses for the freshness note.
func UserMessage(company model.Company, ev *model.Evidence, now time.Time) (string, error) {
	sources, err := orderedSources(ev)
	if err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(rawData{
		Sources:            sources,
		SourcesUnavailable: ev.SourcesUnavailable(),
	}, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "pipeline: encode evidence")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this business data for %s and generate an operational profile.\n\n", company.Name)
	fmt.Fprintf(&b, "Company website: %s\n\n", company.URL)
	b.WriteString("Raw Data Collected:\n\n")
	b.Write(raw)
	fmt.Fprintf(&b, "\n\nCurrent date: %s\n\n", now.Format("January 2006"))
	b.WriteString("Generate the operational profile JSON now.")
	return b.String(), nil
}

// orderedSources encodes successful payloads as one JSON object keyed by
// source label, in source order. A map would come out sorted by label.
func orderedSources(ev *model.Evidence) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, src := range ev.Succeeded() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(src.Label())
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: encode source label")
		}
		payload, err := json.Marshal(ev.Get(src).Payload)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: encode %s payload", src)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(payload)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// stripFences removes a markdown code fence around the model output, if any.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	} else {
		return s
	}
	if j := strings.Index(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}
