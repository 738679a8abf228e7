package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opsprofile/internal/config"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/store"
	"github.com/sells-group/opsprofile/internal/token"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "worker", "process", "recover", "migrate", "export"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "opsprofile", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRecoverCommand_Flags(t *testing.T) {
	flag := recoverCmd.Flags().Lookup("older-than")
	require.NotNil(t, flag)
	assert.Equal(t, "10m0s", flag.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "opsprofile-export.xlsx", flag.DefValue)
}

func TestProcessCommand_RequiresJobID(t *testing.T) {
	assert.Error(t, processCmd.Args(processCmd, nil))
	assert.NoError(t, processCmd.Args(processCmd, []string{"job-1"}))
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses(" complete, failed ,")
	require.NoError(t, err)
	assert.Equal(t, []model.Status{model.StatusComplete, model.StatusFailed}, got)

	got, err = parseStatuses("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseStatuses("done")
	assert.Error(t, err)
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cmd.db")},
		Intake:   config.IntakeConfig{RateLimit: 10, RateWindowSecs: 3600, MismatchPolicy: "reject"},
		Pipeline: config.PipelineConfig{Dispatcher: "local", MaxInFlight: 2},
		Server:   config.ServerConfig{CORSOrigins: []string{"*"}},
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	withConfig(t, sqliteConfig(t))

	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, err = st.GetSubmission(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	c := sqliteConfig(t)
	c.Store.Driver = "mysql"
	withConfig(t, c)

	_, err := openStore(context.Background())
	assert.Error(t, err)
}

func TestInitRedis_Disabled(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	rdb, err := initRedis(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rdb)
}

type recordingProcessor struct {
	mu   sync.Mutex
	jobs []string
}

func (p *recordingProcessor) Process(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobID)
	return nil
}

func TestBuildHandler_IntakeAndHealth(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	proc := &recordingProcessor{}
	d, err := initDispatcher(proc)
	require.NoError(t, err)
	require.True(t, d.local)

	env := &appEnv{Store: st, Tokens: token.New(st, 0)}
	srv := httptest.NewServer(buildHandler(env, d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/intake", "application/json",
		strings.NewReader(`{"company_name":"Acme","company_url":"acme.com","email":"jane@acme.com"}`))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(cctx))

	subs, err := st.ListSubmissions(ctx, store.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, []string{subs[0].JobID}, proc.jobs)
}

func TestRecoverStranded(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	old := time.Now().Add(-time.Hour).UTC()
	for _, id := range []string{"job-1", "job-2"} {
		require.NoError(t, st.CreateSubmission(ctx, &model.Submission{
			JobID: id, CompanyName: "Acme", CompanyURL: "https://acme.com", Email: "jane@acme.com",
			Status: model.StatusQueued, CreatedAt: old, UpdatedAt: old,
		}))
	}

	proc := &recordingProcessor{}
	d, err := initDispatcher(proc)
	require.NoError(t, err)

	recoverStranded(ctx, st, d, time.Now())

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(cctx))
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, proc.jobs)
}
