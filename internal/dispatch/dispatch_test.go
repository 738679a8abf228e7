package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/store"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func newSweepStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func addSubmission(t *testing.T, st *store.SQLiteStore, jobID string, created time.Time, status model.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateSubmission(ctx, &model.Submission{
		JobID:       jobID,
		CompanyName: "Acme",
		CompanyURL:  "https://acme.com",
		Email:       "jane@acme.com",
		Status:      model.StatusQueued,
		CreatedAt:   created,
		UpdatedAt:   created,
	}))
	if status == model.StatusQueued {
		return
	}
	require.NoError(t, st.TransitionStatus(ctx, jobID, model.StatusQueued, model.StatusProcessing))
	if status != model.StatusProcessing {
		require.NoError(t, st.TransitionStatus(ctx, jobID, model.StatusProcessing, status))
	}
}

func TestSweep_RedispatchesStrandedSubmissions(t *testing.T) {
	st := newSweepStore(t)
	old := time.Now().UTC().Add(-time.Hour)
	addSubmission(t, st, "queued-old", old, model.StatusQueued)
	addSubmission(t, st, "processing-old", old, model.StatusProcessing)
	addSubmission(t, st, "complete-old", old, model.StatusComplete)
	addSubmission(t, st, "queued-new", time.Now().UTC(), model.StatusQueued)

	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, "queued-old").Return(nil).Once()
	d.On("Dispatch", mock.Anything, "processing-old").Return(errors.New("closed")).Once()

	n, err := Sweep(context.Background(), st, d, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	d.AssertExpectations(t)
}

func TestSweep_Pages(t *testing.T) {
	st := newSweepStore(t)
	old := time.Now().UTC().Add(-time.Hour)
	total := sweepPageSize + 7
	for i := range total {
		addSubmission(t, st, fmt.Sprintf("job-%03d", i), old.Add(time.Duration(i)*time.Second), model.StatusQueued)
	}

	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(nil)

	n, err := Sweep(context.Background(), st, d, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, total, n)
	d.AssertNumberOfCalls(t, "Dispatch", total)
}

type brokenLister struct{}

func (brokenLister) ListSubmissions(context.Context, store.SubmissionFilter) ([]model.Submission, error) {
	return nil, errors.New("connection refused")
}

func TestSweep_ListError(t *testing.T) {
	_, err := Sweep(context.Background(), brokenLister{}, &mockDispatcher{}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list stranded submissions")
}
