package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opsprofile/internal/cache"
	"github.com/sells-group/opsprofile/internal/collect"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/notify"
	"github.com/sells-group/opsprofile/internal/resilience"
	"github.com/sells-group/opsprofile/internal/sources"
	"github.com/sells-group/opsprofile/internal/store"
	"github.com/sells-group/opsprofile/internal/token"
	"github.com/sells-group/opsprofile/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Review / CRM Mocks ---

type mockReview struct {
	mock.Mock
}

func (m *mockReview) Resolve(ctx context.Context, jobID string, status model.Status) error {
	return m.Called(ctx, jobID, status).Error(0)
}

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) SyncLead(ctx context.Context, sub *model.Submission, p *model.Profile) (string, error) {
	args := m.Called(ctx, sub, p)
	return args.String(0), args.Error(1)
}

// --- Notifier ---

type sentMessage struct {
	kind    notify.Kind
	to      string
	payload notify.Payload
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, kind notify.Kind, to string, p notify.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{kind: kind, to: to, payload: p})
	return n.err
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

// --- Fixtures ---

func samplePayload(src model.Source) any {
	switch src {
	case model.SourceSite:
		return &model.SitePayload{
			Title:           "Acme Industrial Supply",
			MetaDescription: "Fasteners and fittings for Central Texas contractors.",
			VisibleText:     "Family owned since 1987. Same-day delivery across Austin.",
			NavigationItems: []string{"Products", "About", "Careers"},
		}
	case model.SourceTech:
		return &model.TechPayload{Detected: []model.Technology{
			{Name: "WordPress", Category: "CMS", Confidence: 100},
			{Name: "Cloudflare", Category: "CDN", Confidence: 55},
		}}
	case model.SourceDNS:
		return &model.DNSPayload{
			Domain:        "acme.com",
			MXRecords:     []string{"aspmx.l.google.com"},
			EmailProvider: "Google Workspace",
			HasSPF:        true,
		}
	case model.SourcePlaces:
		return &model.PlacesPayload{Name: "Acme Industrial Supply", Rating: 4.6, ReviewCount: 120}
	case model.SourceJobs:
		return &model.JobsPayload{TotalPositions: 2, JobTitles: []string{"Field Technician", "Inside Sales"}}
	}
	return nil
}

func baseDoc() model.ProfileDoc {
	return model.ProfileDoc{
		CompanyName:            "Acme Industrial Supply",
		IndustryClassification: "Industrial Distribution",
		Location:               "Austin, TX",
		EstimatedSize:          "10-50 employees",
		OperationalSnapshot: model.OperationalSnapshot{
			TechnologyPosture:     "A hosted CMS behind a CDN points to an outsourced but current web stack.",
			DigitalMaturity:       "6/10, modern hosting with little automation.",
			DetectedTechnologies:  []string{"WordPress", "Cloudflare"},
			InfrastructureSignals: "Google Workspace mail with SPF configured.",
		},
		MarketPosition: model.MarketPosition{
			BusinessCategory:   "Industrial supply distributor",
			PublicReputation:   "Rated 4.6 stars across 120 reviews.",
			CompetitiveSignals: "Same-day delivery is the main differentiator.",
			GrowthIndicators:   "Hiring field technicians suggests service expansion.",
		},
		StrategicObservations: []string{"Service hiring outpaces sales hiring."},
		IdentifiedGaps:        []string{"Inventory systems are not visible from public data."},
		DataConfidence: model.DataConfidence{
			OverallScore: "High",
			SourcesUsed:  []string{"Website Content", "Technology Stack", "Google Business Profile"},
			Freshness:    "Data collected January 2026",
		},
	}
}

func docJSON(t *testing.T, mutate func(*model.ProfileDoc)) string {
	t.Helper()
	doc := baseDoc()
	if mutate != nil {
		mutate(&doc)
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(b)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_test",
		Model:      DefaultModel,
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 1200, OutputTokens: 800},
	}
}

// recordSleep returns a Sleep func that records delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*delays = append(*delays, d)
		return nil
	}
}

func testSynthConfig(delays *[]time.Duration) SynthesisConfig {
	cfg := DefaultSynthesisConfig()
	cfg.Retry = resilience.ScheduleConfig(3, DefaultRetryDelays)
	cfg.Retry.Sleep = recordSleep(delays)
	return cfg
}

// --- Harness ---

type harness struct {
	t        *testing.T
	store    *store.SQLiteStore
	client   *mockClient
	notifier *recordingNotifier
	review   *mockReview
	crm      *mockCRM
	redis    *miniredis.Miniredis
	cache    *cache.Redis
	tokens   *token.Issuer
	sleeps   []time.Duration
	calls    [model.SourceCount]atomic.Int32
	pipeline *Pipeline
}

// newHarness wires a pipeline over a real SQLite store and Redis cache.
// Sources listed in ok return sample payloads; the rest fail.
func newHarness(t *testing.T, opts Options, ok ...model.Source) *harness {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		t:        t,
		store:    st,
		client:   &mockClient{},
		notifier: &recordingNotifier{},
		review:   &mockReview{},
		crm:      &mockCRM{},
		redis:    mr,
		cache:    cache.NewRedis(rdb, 0),
		tokens:   token.New(st, 0),
	}

	succeed := make(map[model.Source]bool, len(ok))
	for _, src := range ok {
		succeed[src] = true
	}
	var adapters []sources.Adapter
	for _, src := range model.Sources() {
		adapters = append(adapters, sources.AdapterFunc{
			Src: src,
			Fn: func(context.Context, model.Company) (any, error) {
				h.calls[src].Add(1)
				if succeed[src] {
					return samplePayload(src), nil
				}
				return nil, errors.New("upstream unavailable")
			},
		})
	}

	if opts.BaseURL == "" {
		opts.BaseURL = "https://profiles.example.com/"
	}
	h.pipeline = New(Deps{
		Store:       st,
		Collector:   collect.New(adapters, collect.Options{Timeout: time.Second}),
		Synthesizer: NewSynthesizer(h.client, testSynthConfig(&h.sleeps)),
		Tokens:      h.tokens,
		Notifier:    h.notifier,
		Cache:       h.cache,
		Review:      h.review,
		CRM:         h.crm,
	}, opts)
	return h
}

func (h *harness) submit(jobID, email, reviewReason string) *model.Submission {
	h.t.Helper()
	now := time.Now().UTC()
	sub := &model.Submission{
		JobID:        jobID,
		CompanyName:  "Acme Industrial Supply",
		CompanyURL:   "https://acme.com",
		Email:        email,
		Status:       model.StatusQueued,
		ReviewReason: reviewReason,
		ClientIP:     "203.0.113.7",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(h.t, h.store.CreateSubmission(context.Background(), sub))
	return sub
}

func (h *harness) reload(jobID string) *model.Submission {
	h.t.Helper()
	sub, err := h.store.GetSubmission(context.Background(), jobID)
	require.NoError(h.t, err)
	return sub
}

func (h *harness) collectCalls() int {
	var n int
	for i := range h.calls {
		n += int(h.calls[i].Load())
	}
	return n
}
