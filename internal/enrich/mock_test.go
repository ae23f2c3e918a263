package enrich

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
	"github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
	"github.com/k1p1l0/tendhunt-sub005/pkg/jina"
	"github.com/k1p1l0/tendhunt-sub005/pkg/moderngov"
)

type mockJinaClient struct {
	mock.Mock
}

func (m *mockJinaClient) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

func (m *mockJinaClient) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.SearchResponse), args.Error(1)
}

type mockApifyClient struct {
	mock.Mock
	items []linkedInHit
}

func (m *mockApifyClient) RunSync(ctx context.Context, actorID string, input any, out any) error {
	args := m.Called(ctx, actorID, input)
	if hits, ok := out.(*[]linkedInHit); ok && args.Error(0) == nil {
		*hits = m.items
	}
	return args.Error(0)
}

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type mockModernGovClient struct {
	mock.Mock
}

func (m *mockModernGovClient) TestConnection(ctx context.Context, baseURL string) error {
	return m.Called(ctx, baseURL).Error(0)
}

func (m *mockModernGovClient) GetCommittees(ctx context.Context, baseURL string) ([]moderngov.Committee, error) {
	args := m.Called(ctx, baseURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]moderngov.Committee), args.Error(1)
}

func (m *mockModernGovClient) GetMeetings(ctx context.Context, baseURL string, from, to time.Time) ([]moderngov.Meeting, error) {
	args := m.Called(ctx, baseURL, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]moderngov.Meeting), args.Error(1)
}

type mockWebFetcher struct {
	mock.Mock
}

func (m *mockWebFetcher) Head(ctx context.Context, rawURL string) (bool, error) {
	args := m.Called(ctx, rawURL)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebFetcher) FetchPrefix(ctx context.Context, rawURL string, n int64) ([]byte, error) {
	args := m.Called(ctx, rawURL, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// newTestServices returns services over a fresh store with single-attempt
// calls and a fixed clock.
func newTestServices(t *testing.T) *Services {
	t.Helper()
	return &Services{
		Store: newTestStore(t),
		Retry: resilience.RetryConfig{MaxAttempts: 1},
		Now:   func() time.Time { return testNow },
	}
}

// seedBuyer inserts b, applies the non-key fields through UpdateBuyer and
// returns the stored copy.
func seedBuyer(t *testing.T, st store.Store, b model.Buyer, patch model.BuyerPatch) *model.Buyer {
	t.Helper()
	ctx := context.Background()
	if b.OrgID == "" {
		b.OrgID = "org-" + b.ID
	}
	_, err := st.UpsertBuyer(ctx, b)
	require.NoError(t, err)
	if !patch.IsEmpty() {
		require.NoError(t, st.UpdateBuyer(ctx, b.ID, patch))
	}
	got, err := st.GetBuyer(ctx, b.ID)
	require.NoError(t, err)
	return got
}

func reload(t *testing.T, st store.Store, id string) *model.Buyer {
	t.Helper()
	got, err := st.GetBuyer(context.Background(), id)
	require.NoError(t, err)
	return got
}
