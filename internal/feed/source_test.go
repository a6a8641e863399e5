package feed

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
)

type mockGetter struct {
	mock.Mock
}

func (m *mockGetter) Get(ctx context.Context, url string) (crawler.RawPage, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(crawler.RawPage), args.Error(1)
}

const feedURL = "https://apis.example.org/products/v0/details-normal?start=0"

func TestListIdentifiersFiltersAndDeduplicates(t *testing.T) {
	t.Parallel()

	body := `[
  {"basic": {"productId": "1234501"}},
  {"basic": {"productId": "999"}},
  {"basic": {"productId": "1000"}},
  {"basic": {"productId": "abc"}},
  {"basic": {"productId": 5550101}},
  {"basic": {"productId": "1234501"}},
  {"basic": {}},
  {"basic": {"productId": "1001"}}
]`
	getter := &mockGetter{}
	getter.On("Get", mock.Anything, feedURL).
		Return(crawler.RawPage{StatusCode: http.StatusOK, Body: []byte(body)}, nil).Once()

	src := New(Config{APIBaseURL: "https://apis.example.org/", MinProductID: 1000}, getter, nil)
	ids, err := src.ListIdentifiers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []crawler.ProductID{"1234501", "5550101", "1001"}, ids)
	getter.AssertExpectations(t)
}

func TestListIdentifiersPropagatesFetchErrors(t *testing.T) {
	t.Parallel()

	getter := &mockGetter{}
	statusErr := &crawler.HTTPStatusError{URL: feedURL, StatusCode: http.StatusUnauthorized}
	getter.On("Get", mock.Anything, feedURL).Return(crawler.RawPage{}, statusErr)

	src := New(Config{APIBaseURL: "https://apis.example.org", MinProductID: 1000}, getter, nil)
	_, err := src.ListIdentifiers(context.Background())

	var got *crawler.HTTPStatusError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, http.StatusUnauthorized, got.StatusCode)
}

func TestListIdentifiersRejectsMalformedFeed(t *testing.T) {
	t.Parallel()

	getter := &mockGetter{}
	getter.On("Get", mock.Anything, feedURL).
		Return(crawler.RawPage{StatusCode: http.StatusOK, Body: []byte(`{"error": "nope"}`)}, nil)

	src := New(Config{APIBaseURL: "https://apis.example.org", MinProductID: 1000}, getter, nil)
	_, err := src.ListIdentifiers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode identifier feed")
}

func TestListIdentifiersEmptyFeed(t *testing.T) {
	t.Parallel()

	getter := &mockGetter{}
	getter.On("Get", mock.Anything, feedURL).
		Return(crawler.RawPage{StatusCode: http.StatusOK, Body: []byte(`[]`)}, nil)

	src := New(Config{APIBaseURL: "https://apis.example.org", MinProductID: 1000}, getter, nil)
	ids, err := src.ListIdentifiers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
