package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/pkg/salesforce"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	if fn, ok := args.Get(0).(func(out any)); ok {
		fn(out)
		return nil
	}
	return args.Error(0)
}

func (m *mockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *mockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}

func testSubmission() *model.Submission {
	return &model.Submission{
		JobID:       "job-1",
		CompanyName: "Acme",
		CompanyURL:  "https://acme.com",
		Email:       "jane.doe@acme.com",
		AuthToken:   "tok",
	}
}

func testProfile() *model.Profile {
	return &model.Profile{
		ConfidenceScore: "high",
		Document: model.ProfileDoc{
			IndustryClassification: "Industrial Manufacturing",
			EstimatedSize:          "50-100 employees",
			Location:               "Austin, TX",
		},
	}
}

func TestLeadFields(t *testing.T) {
	f := LeadFields(testSubmission(), testProfile(), "https://harnessai.co")

	assert.Equal(t, "jane.doe@acme.com", f["Email"])
	assert.Equal(t, "Acme", f["Company"])
	assert.Equal(t, "https://acme.com", f["Website"])
	assert.Equal(t, "jane.doe", f["LastName"])
	assert.Equal(t, LeadSource, f["LeadSource"])
	assert.Equal(t, "Industrial Manufacturing", f["Industry"])

	desc := f["Description"].(string)
	assert.Contains(t, desc, "Size: 50-100 employees")
	assert.Contains(t, desc, "Confidence: high")
	assert.Contains(t, desc, "Profile: https://harnessai.co/profile/tok")
}

func TestLeadFields_NoProfile(t *testing.T) {
	f := LeadFields(testSubmission(), nil, "")
	assert.NotContains(t, f, "Description")
	assert.NotContains(t, f, "Industry")
}

func TestLastName(t *testing.T) {
	assert.Equal(t, "Unknown", lastName("@acme.com"))
	assert.Equal(t, "ops", lastName("ops@acme.com"))
}

func TestSyncLead_Creates(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()
	mc.On("Query", ctx, mock.Anything, mock.Anything).Return(func(any) {})
	mc.On("InsertOne", ctx, "Lead", mock.MatchedBy(func(f map[string]any) bool {
		return f["Email"] == "jane.doe@acme.com" && f["LeadSource"] == LeadSource
	})).Return("00Qnew", nil)

	id, err := NewSyncer(mc, "https://harnessai.co/").SyncLead(ctx, testSubmission(), testProfile())
	require.NoError(t, err)
	assert.Equal(t, "00Qnew", id)
}

func TestSyncLead_UpdatesExisting(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()
	mc.On("Query", ctx, mock.Anything, mock.Anything).Return(func(out any) {
		*(out.(*[]salesforce.Lead)) = []salesforce.Lead{{ID: "00Qold"}}
	})
	mc.On("UpdateOne", ctx, "Lead", "00Qold", mock.Anything).Return(nil)

	id, err := NewSyncer(mc, "").SyncLead(ctx, testSubmission(), testProfile())
	require.NoError(t, err)
	assert.Equal(t, "00Qold", id)
	mc.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncLead_Error(t *testing.T) {
	mc := new(mockClient)
	mc.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("INVALID_SESSION_ID"))

	_, err := NewSyncer(mc, "").SyncLead(context.Background(), testSubmission(), testProfile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm: sync lead for job-1")
}
