package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-io/relay/pkg/relay"
)

type widget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func widgetID(w widget) string { return w.ID }

// fakeExecutor records descriptors and replays canned responses.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []*relay.Descriptor
	handler func(ctx context.Context, d *relay.Descriptor) ([]byte, error)
	cache   *relay.CacheManager
	session *relay.Session
}

func newFakeExecutor(handler func(ctx context.Context, d *relay.Descriptor) ([]byte, error)) *fakeExecutor {
	return &fakeExecutor{
		handler: handler,
		cache:   relay.NewCacheManager(relay.NewMemoryCache(100), nil),
		session: relay.NewSession("test-token"),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, d)
	f.mu.Unlock()

	return f.handler(ctx, d)
}

func (f *fakeExecutor) CacheManager() *relay.CacheManager { return f.cache }
func (f *fakeExecutor) Session() *relay.Session           { return f.session }

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeExecutor) lastCall() *relay.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.calls) == 0 {
		return nil
	}

	return f.calls[len(f.calls)-1]
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

func TestNewCollection_Validation(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(nil)

	_, err := relay.NewCollection[widget](exec, "", widgetID)
	require.ErrorIs(t, err, relay.ErrResourcePath)

	_, err = relay.NewCollection[widget](exec, "/v1/widgets", nil)
	require.ErrorIs(t, err, relay.ErrIdentityFunc)
}

func TestCollection_List_ReplacesItems(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`[{"id":"1","name":"A"},{"id":"2","name":"B"}]`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	items, err := collection.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []widget{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}}, items)
	assert.Equal(t, items, collection.Items())
	assert.Nil(t, collection.Err())
	assert.False(t, collection.Loading())

	call := exec.lastCall()
	assert.Equal(t, http.MethodGet, call.Method)
	assert.Equal(t, "/v1/widgets", call.Path)
}

func TestCollection_List_EnvelopedResponse(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`{"pagination":{"total_results":1},"resources":[{"id":"1","name":"A"}]}`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	items, err := collection.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []widget{{ID: "1", Name: "A"}}, items)
}

func TestCollection_List_FailSoft(t *testing.T) {
	t.Parallel()

	healthy := true
	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		if !healthy {
			return nil, relay.ErrorFromStatus(500, "boom")
		}

		return []byte(`[{"id":"1","name":"A"}]`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	// A failed refresh keeps the previous items and records the error.
	healthy = false

	_, err = collection.List(context.Background())
	require.Error(t, err)

	assert.Equal(t, []widget{{ID: "1", Name: "A"}}, collection.Items())
	require.NotNil(t, collection.Err())
	assert.Equal(t, relay.ErrorKindServer, collection.Err().Kind)

	// A later success clears the error state.
	healthy = true

	_, err = collection.List(context.Background())
	require.NoError(t, err)
	assert.Nil(t, collection.Err())
}

func TestCollection_List_DeduplicatesByIdentity(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`[{"id":"1","name":"A"},{"id":"1","name":"A-dup"},{"id":"2","name":"B"}]`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	items, err := collection.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []widget{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}}, items)
}

func TestCollection_Create_AppendsConfirmedItem(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		if d.Method == http.MethodGet {
			return []byte(`[]`), nil
		}

		// The server fills in defaults the client did not send.
		return []byte(`{"id":"7","name":"created"}`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	item, err := collection.Create(context.Background(), map[string]string{"name": "created"})
	require.NoError(t, err)
	assert.Equal(t, widget{ID: "7", Name: "created"}, item)

	// The local slice holds the server-confirmed item, not the input.
	assert.Equal(t, []widget{{ID: "7", Name: "created"}}, collection.Items())

	call := exec.lastCall()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.False(t, call.IdempotentWrite, "creates are not retryable by default")
}

func TestCollection_Create_FailureLeavesItemsUntouched(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return nil, relay.ErrorFromStatus(422, "name is required")
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.Create(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.True(t, relay.IsValidation(err))

	assert.Empty(t, collection.Items())
	require.NotNil(t, collection.Err())
	assert.Equal(t, relay.ErrorKindValidation, collection.Err().Kind)
}

func TestCollection_Create_RetryOptIn(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`{"id":"7","name":"x"}`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID,
		relay.WithCreateRetry[widget](true))
	require.NoError(t, err)

	_, err = collection.Create(context.Background(), map[string]string{"name": "x"})
	require.NoError(t, err)

	assert.True(t, exec.lastCall().IdempotentWrite)
}

func TestCollection_Update_ReplacesInPlace(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		if d.Method == http.MethodGet {
			return []byte(`[{"id":"1","name":"A"},{"id":"2","name":"B"}]`), nil
		}

		return []byte(`{"id":"2","name":"B2"}`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	item, err := collection.Update(context.Background(), "2", map[string]string{"name": "B2"})
	require.NoError(t, err)
	assert.Equal(t, widget{ID: "2", Name: "B2"}, item)

	// Order preserved, item replaced in place.
	assert.Equal(t, []widget{{ID: "1", Name: "A"}, {ID: "2", Name: "B2"}}, collection.Items())

	call := exec.lastCall()
	assert.Equal(t, http.MethodPatch, call.Method)
	assert.Equal(t, "/v1/widgets/2", call.Path)
}

func TestCollection_Update_UnknownIDShortCircuits(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`[{"id":"1","name":"A"}]`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	before := exec.callCount()

	_, err = collection.Update(context.Background(), "missing", map[string]string{"name": "x"})
	require.Error(t, err)
	assert.True(t, relay.IsNotFound(err))

	// No network call was made for the unknown id.
	assert.Equal(t, before, exec.callCount())
	assert.Equal(t, []widget{{ID: "1", Name: "A"}}, collection.Items())
}

func TestCollection_Remove_DeletesItem(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		if d.Method == http.MethodGet {
			return []byte(`[{"id":"1","name":"A"},{"id":"2","name":"B"}]`), nil
		}

		return nil, nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	err = collection.Remove(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []widget{{ID: "2", Name: "B"}}, collection.Items())

	call := exec.lastCall()
	assert.Equal(t, http.MethodDelete, call.Method)
	assert.Equal(t, "/v1/widgets/1", call.Path)
}

func TestCollection_Remove_AbsentIDIsNoOp(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		if d.Method == http.MethodGet {
			return []byte(`[{"id":"1","name":"A"}]`), nil
		}

		return nil, nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	err = collection.Remove(context.Background(), "1")
	require.NoError(t, err)

	before := exec.callCount()

	// Removing the same id again succeeds without touching the network.
	err = collection.Remove(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, before, exec.callCount())
	assert.Nil(t, collection.Err())
}

func TestCollection_WriteInvalidatesCachedListings(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		if d.Method == http.MethodGet {
			return []byte(`[]`), nil
		}

		return []byte(`{"id":"7","name":"x"}`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	ctx := context.Background()

	// Seed cached listings under the collection path, plus an unrelated one.
	require.NoError(t, exec.cache.Set(ctx, "GET:/v1/widgets", []byte(`[]`), time.Hour))
	require.NoError(t, exec.cache.Set(ctx, "GET:/v1/widgets:page=2", []byte(`[]`), time.Hour))
	require.NoError(t, exec.cache.Set(ctx, "GET:/v1/gadgets", []byte(`[]`), time.Hour))

	_, err = collection.Create(ctx, map[string]string{"name": "x"})
	require.NoError(t, err)

	_, err = exec.cache.Get(ctx, "GET:/v1/widgets")
	require.Error(t, err)
	_, err = exec.cache.Get(ctx, "GET:/v1/widgets:page=2")
	require.Error(t, err)

	// Unrelated entries survive.
	_, err = exec.cache.Get(ctx, "GET:/v1/gadgets")
	require.NoError(t, err)
}

func TestCollection_ListUsesConfiguredRevalidation(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`[]`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID,
		relay.WithListRevalidate[widget](relay.MaxAge(30*time.Second)))
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	call := exec.lastCall()
	maxAge, ok := call.Revalidate.MaxAge()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, maxAge)
}

func TestCollection_CanceledContextDiscardsResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		if d.Path == "/v1/widgets" && d.Method == http.MethodGet {
			return []byte(`[{"id":"1","name":"A"}]`), nil
		}

		return nil, nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	// The response arrives after the caller has moved on; its result must not
	// clobber state.
	cancel()

	_, _ = collection.List(ctx)

	assert.Equal(t, []widget{{ID: "1", Name: "A"}}, collection.Items())
}

func TestCollection_UpdateScenario(t *testing.T) {
	t.Parallel()

	store := map[string]widget{
		"1": {ID: "1", Name: "A"},
		"2": {ID: "2", Name: "B"},
	}

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		switch d.Method {
		case http.MethodGet:
			return []byte(`[{"id":"1","name":"A"},{"id":"2","name":"B"}]`), nil
		case http.MethodPatch:
			updated := store["2"]
			updated.Name = "B2"
			store["2"] = updated

			return mustJSON(t, updated), nil
		default:
			return nil, nil
		}
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.NoError(t, err)

	_, err = collection.Update(context.Background(), "2", map[string]string{"name": "B2"})
	require.NoError(t, err)

	assert.Equal(t, []widget{{ID: "1", Name: "A"}, {ID: "2", Name: "B2"}}, collection.Items())
	assert.Nil(t, collection.Err())
}

func TestCollection_MalformedBodyIsNetworkError(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`<html>not json</html>`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.List(context.Background())
	require.Error(t, err)

	// A response body that fails to decode is a mangled transport payload.
	require.NotNil(t, collection.Err())
	assert.Equal(t, relay.ErrorKindNetwork, collection.Err().Kind)
}

func TestCollection_Create_MalformedBodyIsNetworkError(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(func(ctx context.Context, d *relay.Descriptor) ([]byte, error) {
		return []byte(`oops`), nil
	})

	collection, err := relay.NewCollection[widget](exec, "/v1/widgets", widgetID)
	require.NoError(t, err)

	_, err = collection.Create(context.Background(), map[string]string{"name": "x"})
	require.Error(t, err)

	apiErr := &relay.APIError{}
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, relay.ErrorKindNetwork, apiErr.Kind)
}
