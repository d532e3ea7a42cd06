package relay

import (
	"net/url"
	"time"
)

// Revalidate decides whether a cached response may be served for a request.
//
// The zero value (RevalidateNone) always hits the network, performs no cache
// read, and writes the result through on success. RevalidateForce always hits
// the network and overwrites the entry. MaxAge(n) serves a cached entry
// younger than n and refreshes otherwise.
type Revalidate struct {
	mode   revalidateMode
	maxAge time.Duration
}

type revalidateMode int

const (
	revalidateNone revalidateMode = iota
	revalidateForce
	revalidateMaxAge
)

// RevalidateNone always hits the network and writes through on success.
var RevalidateNone = Revalidate{mode: revalidateNone}

// RevalidateForce always hits the network and overwrites the cache entry.
var RevalidateForce = Revalidate{mode: revalidateForce}

// MaxAge serves a cached entry if it is younger than age, otherwise refreshes.
func MaxAge(age time.Duration) Revalidate {
	return Revalidate{mode: revalidateMaxAge, maxAge: age}
}

// IsForce reports whether the policy unconditionally overwrites the entry.
func (r Revalidate) IsForce() bool { return r.mode == revalidateForce }

// IsNone reports whether the policy skips cache reads entirely.
func (r Revalidate) IsNone() bool { return r.mode == revalidateNone }

// MaxAge returns the freshness window and whether one is set.
func (r Revalidate) MaxAge() (time.Duration, bool) {
	return r.maxAge, r.mode == revalidateMaxAge
}

// Descriptor is the immutable description of one HTTP request as it travels
// through the pipeline. Callers build one per call and never reuse it after
// handing it off.
type Descriptor struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string

	// CacheKey overrides the derived method:path:query key. Empty means derive.
	CacheKey string
	// Revalidate selects the cache policy for GET requests.
	Revalidate Revalidate
	// IdempotentWrite opts a POST into the retry policy. A retried create can
	// duplicate a resource server-side, so this defaults to off.
	IdempotentWrite bool
}

// CacheKeyOrDerived returns the explicit cache key or one derived from the
// method, path and sorted query parameters.
func (d *Descriptor) CacheKeyOrDerived() string {
	if d.CacheKey != "" {
		return d.CacheKey
	}

	key := d.Method + ":" + d.Path
	if len(d.Query) > 0 {
		key += ":" + d.Query.Encode()
	}

	return key
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}
