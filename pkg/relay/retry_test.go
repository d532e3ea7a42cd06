package relay_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-io/relay/pkg/relay"
)

func fastPolicy(maxAttempts int) *relay.RetryPolicy {
	return &relay.RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	policy := fastPolicy(3)
	attempts := 0

	body, err := policy.Do(context.Background(), func(ctx context.Context) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, relay.ErrorFromStatus(503, "try again")
		}

		return []byte(`{"ok":true}`), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), body)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	policy := fastPolicy(3)
	attempts := 0

	_, err := policy.Do(context.Background(), func(ctx context.Context) ([]byte, error) {
		attempts++

		return nil, relay.ErrorFromStatus(500, "still broken")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	// The last observed error surfaces, classified.
	apiErr := &relay.APIError{}
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, relay.ErrorKindServer, apiErr.Kind)
}

func TestRetryPolicy_TerminalErrorsFailFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{name: "unauthorized", status: 401},
		{name: "not found", status: 404},
		{name: "validation", status: 422},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			policy := fastPolicy(3)
			attempts := 0

			_, err := policy.Do(context.Background(), func(ctx context.Context) ([]byte, error) {
				attempts++

				return nil, relay.ErrorFromStatus(tt.status, "")
			})

			require.Error(t, err)
			assert.Equal(t, 1, attempts, "terminal failures must not be retried")
		})
	}
}

func TestRetryPolicy_RetriesNetworkAndTimeout(t *testing.T) {
	t.Parallel()

	for _, kind := range []relay.ErrorKind{relay.ErrorKindNetwork, relay.ErrorKindTimeout} {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()

			policy := fastPolicy(2)
			attempts := 0

			_, err := policy.Do(context.Background(), func(ctx context.Context) ([]byte, error) {
				attempts++

				return nil, relay.NewAPIError(kind, 0, "flaky", nil)
			})

			require.Error(t, err)
			assert.Equal(t, 2, attempts)
		})
	}
}

func TestRetryPolicy_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	policy := &relay.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Hour, // never actually slept through
		MaxDelay:    time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := policy.Do(ctx, func(ctx context.Context) ([]byte, error) {
		attempts++

		return nil, relay.ErrorFromStatus(500, "")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()

	policy := relay.DefaultRetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 300*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, 10*time.Second, policy.MaxDelay)
}

func TestRetryPolicy_ZeroValueBehavesLikeDefault(t *testing.T) {
	t.Parallel()

	policy := &relay.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0

	_, err := policy.Do(context.Background(), func(ctx context.Context) ([]byte, error) {
		attempts++

		return nil, relay.ErrorFromStatus(500, "")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts, "zero MaxAttempts falls back to the default of 3")
}

func TestRetryPolicy_Retryable(t *testing.T) {
	t.Parallel()

	policy := relay.DefaultRetryPolicy()

	// Reads and idempotent writes are always eligible.
	assert.True(t, policy.Retryable(&relay.Descriptor{Method: http.MethodGet, Path: "/v1/widgets"}))
	assert.True(t, policy.Retryable(&relay.Descriptor{Method: http.MethodPut, Path: "/v1/widgets/1"}))
	assert.True(t, policy.Retryable(&relay.Descriptor{Method: http.MethodPatch, Path: "/v1/widgets/1"}))
	assert.True(t, policy.Retryable(&relay.Descriptor{Method: http.MethodDelete, Path: "/v1/widgets/1"}))

	// Creates can duplicate resources, so they need an explicit opt-in.
	assert.False(t, policy.Retryable(&relay.Descriptor{Method: http.MethodPost, Path: "/v1/widgets"}))
	assert.True(t, policy.Retryable(&relay.Descriptor{
		Method:          http.MethodPost,
		Path:            "/v1/widgets",
		IdempotentWrite: true,
	}))
}
