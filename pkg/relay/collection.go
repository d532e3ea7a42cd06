package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Collection is a generic CRUD controller for one server-side entity
// collection. It owns its item slice and error state: only List, Create,
// Update and Remove mutate them, and operations on one collection are
// serialized, so callers never observe a half-applied mutation.
//
// The controller carries no entity-specific knowledge beyond the resource
// path and an identity extraction function.
type Collection[T any] struct {
	exec     Executor
	path     string
	identity func(T) string

	listRevalidate Revalidate
	retryCreates   bool

	// opMu serializes operations; a call queued while another is in flight
	// waits for completion before touching shared state.
	opMu sync.Mutex

	// stateMu guards the snapshot fields below.
	stateMu sync.RWMutex
	items   []T
	lastErr *APIError
	loading bool
	seq     uint64
	applied uint64
}

// CollectionOption configures a Collection.
type CollectionOption[T any] func(*Collection[T])

// WithListRevalidate sets the cache policy used by List. The default is
// RevalidateNone: always hit the network and write the result through.
func WithListRevalidate[T any](policy Revalidate) CollectionOption[T] {
	return func(c *Collection[T]) {
		c.listRevalidate = policy
	}
}

// WithCreateRetry opts Create calls into the retry policy. Only safe when the
// server deduplicates creates (e.g. client-supplied ids).
func WithCreateRetry[T any](allow bool) CollectionOption[T] {
	return func(c *Collection[T]) {
		c.retryCreates = allow
	}
}

// NewCollection builds a controller for the entity collection at path.
// The identity function extracts the stable identity key of an item.
func NewCollection[T any](exec Executor, path string, identity func(T) string, opts ...CollectionOption[T]) (*Collection[T], error) {
	if path == "" {
		return nil, ErrResourcePath
	}

	if identity == nil {
		return nil, ErrIdentityFunc
	}

	collection := &Collection[T]{
		exec:     exec,
		path:     path,
		identity: identity,
	}

	for _, opt := range opts {
		opt(collection)
	}

	return collection, nil
}

// Items returns a copy of the current items in insertion order.
func (c *Collection[T]) Items() []T {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	items := make([]T, len(c.items))
	copy(items, c.items)

	return items
}

// Err returns the error recorded by the most recent failed operation, or nil.
func (c *Collection[T]) Err() *APIError {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.lastErr
}

// Loading reports whether an operation is in flight.
func (c *Collection[T]) Loading() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.loading
}

// List refreshes the collection from the server. On success the items are
// replaced wholesale; on failure the previous items stay untouched and only
// the error state is set (fail-soft read).
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	seq := c.begin()

	body, err := c.exec.Execute(ctx, &Descriptor{
		Method:     http.MethodGet,
		Path:       c.path,
		Revalidate: c.listRevalidate,
	})
	if err != nil {
		c.fail(seq, err)

		return nil, err
	}

	items, err := decodeList[T](body)
	if err != nil {
		c.fail(seq, err)

		return nil, err
	}

	items = dedupeByIdentity(items, c.identity)

	c.complete(seq, ctx, func() {
		c.items = items
	})

	return items, nil
}

// Create posts input to the collection and appends the server-confirmed item.
// The cache read path is bypassed and cached listings are invalidated.
// Creates are not retried unless the collection opted in.
func (c *Collection[T]) Create(ctx context.Context, input any) (T, error) {
	var zero T

	c.opMu.Lock()
	defer c.opMu.Unlock()

	seq := c.begin()

	body, err := c.exec.Execute(ctx, &Descriptor{
		Method:          http.MethodPost,
		Path:            c.path,
		Body:            input,
		IdempotentWrite: c.retryCreates,
	})
	if err != nil {
		c.fail(seq, err)

		return zero, err
	}

	var item T

	err = json.Unmarshal(body, &item)
	if err != nil {
		decodeErr := decodeError(err)
		c.fail(seq, decodeErr)

		return zero, decodeErr
	}

	c.invalidate(ctx)

	c.complete(seq, ctx, func() {
		c.items = append(c.items, item)
	})

	return item, nil
}

// Update patches the item with the given id and replaces it in place. An id
// with no local match fails with a NotFound error before any network call.
func (c *Collection[T]) Update(ctx context.Context, id string, patch any) (T, error) {
	var zero T

	c.opMu.Lock()
	defer c.opMu.Unlock()

	seq := c.begin()

	index := c.indexOf(id)
	if index < 0 {
		err := NewAPIError(ErrorKindNotFound, 0, fmt.Sprintf("no item with id %q", id), nil)
		c.fail(seq, err)

		return zero, err
	}

	body, err := c.exec.Execute(ctx, &Descriptor{
		Method: http.MethodPatch,
		Path:   c.path + "/" + id,
		Body:   patch,
	})
	if err != nil {
		c.fail(seq, err)

		return zero, err
	}

	var item T

	err = json.Unmarshal(body, &item)
	if err != nil {
		decodeErr := decodeError(err)
		c.fail(seq, decodeErr)

		return zero, decodeErr
	}

	c.invalidate(ctx)

	c.complete(seq, ctx, func() {
		if i := c.indexOfLocked(id); i >= 0 {
			c.items[i] = item
		}
	})

	return item, nil
}

// Remove deletes the item with the given id. Removing an id that is already
// absent is a no-op success, so Remove is idempotent from the caller's view.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	seq := c.begin()

	if c.indexOf(id) < 0 {
		c.complete(seq, ctx, func() {})

		return nil
	}

	_, err := c.exec.Execute(ctx, &Descriptor{
		Method: http.MethodDelete,
		Path:   c.path + "/" + id,
	})
	if err != nil {
		c.fail(seq, err)

		return err
	}

	c.invalidate(ctx)

	c.complete(seq, ctx, func() {
		if i := c.indexOfLocked(id); i >= 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
		}
	})

	return nil
}

// begin marks the operation in flight and assigns its logical sequence.
func (c *Collection[T]) begin() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.seq++
	c.loading = true

	return c.seq
}

// complete applies a mutation unless the result is stale: an abandoned
// context or an already-applied newer sequence means the outcome is discarded
// (last-writer-wins by logical sequence, not wall-clock arrival).
func (c *Collection[T]) complete(seq uint64, ctx context.Context, mutate func()) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.loading = false

	if ctx.Err() != nil || seq <= c.applied {
		return
	}

	c.applied = seq
	c.lastErr = nil
	mutate()
}

// fail records the error, leaving items untouched.
func (c *Collection[T]) fail(seq uint64, err error) {
	apiErr := asAPIError(err)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.loading = false

	if seq < c.applied {
		return
	}

	c.lastErr = apiErr
}

// invalidate drops every cached read under the collection path: all listing
// variants and all single-item entries share the GET:path prefix.
func (c *Collection[T]) invalidate(ctx context.Context) {
	manager := c.exec.CacheManager()
	if manager == nil {
		return
	}

	_ = manager.InvalidatePrefix(ctx, http.MethodGet+":"+c.path)
}

// indexOf returns the position of the item with the given identity, or -1.
// Callers hold opMu; stateMu still guards against concurrent snapshots.
func (c *Collection[T]) indexOf(id string) int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.indexOfLocked(id)
}

// indexOfLocked is indexOf for callers already holding stateMu.
func (c *Collection[T]) indexOfLocked(id string) int {
	for i, item := range c.items {
		if c.identity(item) == id {
			return i
		}
	}

	return -1
}

// ListEnvelope is the paginated wire shape some APIs use for listings.
type ListEnvelope[T any] struct {
	Resources []T `json:"resources"`
	Items     []T `json:"items"`
}

// decodeList accepts either a bare JSON array or an enveloped listing.
func decodeList[T any](body []byte) ([]T, error) {
	var items []T

	err := json.Unmarshal(body, &items)
	if err == nil {
		return items, nil
	}

	var envelope ListEnvelope[T]
	if envErr := json.Unmarshal(body, &envelope); envErr == nil {
		if envelope.Resources != nil {
			return envelope.Resources, nil
		}

		if envelope.Items != nil {
			return envelope.Items, nil
		}
	}

	return nil, decodeError(err)
}

// dedupeByIdentity keeps the first occurrence of each identity key so the
// items invariant (no duplicate identities) holds even for misbehaving
// servers.
func dedupeByIdentity[T any](items []T, identity func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]

	for _, item := range items {
		key := identity(item)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		out = append(out, item)
	}

	return out
}

// decodeError classifies a response body that failed to decode. A malformed
// or non-JSON body is a transport-level defect, so it carries the network kind
// like any other mangled response.
func decodeError(err error) *APIError {
	return NewAPIError(ErrorKindNetwork, 0, "decoding response body", err)
}

// asAPIError normalizes any error into an APIError so controller state always
// carries the canonical type.
func asAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	apiErr := &APIError{}
	if errors.As(err, &apiErr) {
		return apiErr
	}

	return NewAPIError(ErrorKindUnknown, 0, err.Error(), err)
}
