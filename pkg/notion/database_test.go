package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestQueryAll_SinglePage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{{ID: "p1"}, {ID: "p2"}},
		}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	mc.AssertExpectations(t)
}

func TestQueryAll_FollowsCursor(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status:   &notionapi.StatusFilterCondition{Equals: "Manual Review"},
		},
	}

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == "" && req.Filter != nil
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}},
		HasMore:    true,
		NextCursor: notionapi.Cursor("cursor-abc"),
	}, nil).Once()
	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == notionapi.Cursor("cursor-abc") && req.Filter != nil
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p2"}},
	}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", filter)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, notionapi.ObjectID("p1"), pages[0].ID)
	assert.Equal(t, notionapi.ObjectID("p2"), pages[1].ID)
	mc.AssertExpectations(t)
}

func TestQueryAll_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(nil, assert.AnError).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	assert.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), "notion: query all")
}

func TestFindByText(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == "Job ID" && pf.RichText != nil && pf.RichText.Equals == "job-1"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "page-9"}},
	}, nil).Once()

	page, err := FindByText(ctx, mc, "db-1", "Job ID", "job-1")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, notionapi.ObjectID("page-9"), page.ID)
}

func TestFindByText_NoMatch(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()

	page, err := FindByText(ctx, mc, "db-1", "Job ID", "missing")
	require.NoError(t, err)
	assert.Nil(t, page)
}
