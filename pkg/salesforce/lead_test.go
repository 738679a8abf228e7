package salesforce

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
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

func TestUpsertLead_Creates(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()
	fields := map[string]any{"Email": "jane@acme.com", "Company": "Acme", "LastName": "Jane"}

	mc.On("Query", ctx, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "FROM Lead") && strings.Contains(q, "Email = 'jane@acme.com'")
	}), mock.Anything).Return(func(any) {})
	mc.On("InsertOne", ctx, "Lead", fields).Return("00Qnew", nil)

	id, err := UpsertLead(ctx, mc, fields)
	require.NoError(t, err)
	assert.Equal(t, "00Qnew", id)
	mc.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpsertLead_UpdatesExisting(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()
	fields := map[string]any{"Email": "jane@acme.com", "Company": "Acme"}

	mc.On("Query", ctx, mock.Anything, mock.Anything).Return(func(out any) {
		*(out.(*[]Lead)) = []Lead{{ID: "00Qold", Email: "jane@acme.com"}}
	})
	mc.On("UpdateOne", ctx, "Lead", "00Qold", fields).Return(nil)

	id, err := UpsertLead(ctx, mc, fields)
	require.NoError(t, err)
	assert.Equal(t, "00Qold", id)
	mc.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpsertLead_RequiresEmailAndCompany(t *testing.T) {
	_, err := UpsertLead(context.Background(), new(mockClient), map[string]any{"Email": "x@y.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestFindLeadByEmail_QueryError(t *testing.T) {
	mc := new(mockClient)
	mc.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	lead, err := FindLeadByEmail(context.Background(), mc, "o'brien@acme.com")
	require.Error(t, err)
	assert.Nil(t, lead)
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, `o\'brien@acme.com`, escapeSoql("o'brien@acme.com"))
}
