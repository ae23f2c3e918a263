package spend

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/fetcher"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
	"github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
)

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

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

// fakeWeb serves HTML pages from a map; unknown URLs are 404s.
type fakeWeb struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newFakeWeb(pages map[string]string) *fakeWeb {
	return &fakeWeb{pages: pages, hits: make(map[string]int)}
}

func (f *fakeWeb) FetchPrefix(_ context.Context, rawURL string, _ int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[rawURL]++
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, resilience.FromHTTPStatus("http", 404, "")
	}
	return []byte(body), nil
}

// fakeFiles serves downloads from a map; unknown URLs are 404s.
type fakeFiles struct {
	mu    sync.Mutex
	files map[string]string
	errs  map[string]error
	calls int
}

func (f *fakeFiles) Fetch(_ context.Context, rawURL string) (*fetcher.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	body, ok := f.files[rawURL]
	if !ok {
		return nil, resilience.FromHTTPStatus("http", 404, "")
	}
	return &fetcher.File{URL: rawURL, ContentType: "text/csv", Body: []byte(body)}, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "spend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedSpendBuyer(t *testing.T, st store.Store, id string) *model.Buyer {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpsertBuyer(ctx, model.Buyer{ID: id, OrgID: "GB-" + id, Name: "Leeds City Council"})
	require.NoError(t, err)
	site, orgType := "https://www.leeds.gov.uk", "local_council"
	require.NoError(t, st.UpdateBuyer(ctx, id, model.BuyerPatch{Website: &site, OrgType: &orgType}))
	b, err := st.GetBuyer(ctx, id)
	require.NoError(t, err)
	return b
}

func newTestIngest(st store.Store, files fetcher.Fetcher, web PageFetcher, opts ...Option) *Ingest {
	base := []Option{
		WithResilience(resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()), resilience.RetryConfig{MaxAttempts: 1}),
		WithClock(func() time.Time { return testNow }),
	}
	return New(st, files, web, append(base, opts...)...)
}
