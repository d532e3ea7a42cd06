package relay_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-io/relay/pkg/relay"
)

func TestRevalidate_Modes(t *testing.T) {
	t.Parallel()

	// The zero value skips cache reads entirely.
	var zero relay.Revalidate

	assert.True(t, zero.IsNone())
	assert.True(t, relay.RevalidateNone.IsNone())
	assert.False(t, relay.RevalidateNone.IsForce())

	assert.True(t, relay.RevalidateForce.IsForce())
	assert.False(t, relay.RevalidateForce.IsNone())

	policy := relay.MaxAge(5 * time.Minute)
	assert.False(t, policy.IsNone())
	assert.False(t, policy.IsForce())

	age, ok := policy.MaxAge()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, age)

	_, ok = relay.RevalidateForce.MaxAge()
	assert.False(t, ok)
}

func TestDescriptor_CacheKeyOrDerived(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		descriptor relay.Descriptor
		expected   string
	}{
		{
			name:       "method and path",
			descriptor: relay.Descriptor{Method: "GET", Path: "/v1/widgets"},
			expected:   "GET:/v1/widgets",
		},
		{
			name: "query parameters sorted",
			descriptor: relay.Descriptor{
				Method: "GET",
				Path:   "/v1/widgets",
				Query:  url.Values{"per_page": {"50"}, "page": {"2"}},
			},
			expected: "GET:/v1/widgets:page=2&per_page=50",
		},
		{
			name: "explicit key wins",
			descriptor: relay.Descriptor{
				Method:   "GET",
				Path:     "/v1/widgets",
				CacheKey: "custom-key",
			},
			expected: "custom-key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, tt.descriptor.CacheKeyOrDerived())
		})
	}
}
