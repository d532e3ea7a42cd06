// Package relay provides the types, interfaces and helpers of a resilient,
// typed client layer for HTTP/JSON APIs.
//
// # Overview
//
// The relay package defines the building blocks of the request pipeline:
// the error taxonomy (APIError), request descriptors, the retry policy, the
// bearer-token Session with expiry notification, the interceptor chain, the
// cache layer with revalidation and request coalescing, and the generic CRUD
// Collection controller. A concrete pipeline implementation is provided by
// the relayclient package, which wires configuration, transport, auth and
// caching. Most consumers should import relayclient to construct a client
// and build collections on top of it.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/meridian-io/relay/pkg/relay"
//	  "github.com/meridian-io/relay/pkg/relayclient"
//	)
//
//	type Widget struct {
//	  ID   string `json:"id"`
//	  Name string `json:"name"`
//	}
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := relayclient.New(&relay.Config{BaseURL: "https://api.example.com"})
//	  if err != nil { log.Fatal(err) }
//
//	  widgets, err := relay.NewCollection(cli, "/v1/widgets",
//	    func(w Widget) string { return w.ID },
//	    relay.WithListRevalidate[Widget](relay.MaxAge(30*time.Second)))
//	  if err != nil { log.Fatal(err) }
//
//	  items, err := widgets.List(ctx)
//	  if err != nil { log.Fatal(err) }
//	  _ = items
//	}
//
// # Errors
//
// Every failure surfaces as an *APIError carrying a kind (network, timeout,
// unauthorized, not_found, validation, server, unknown), the HTTP status when
// one was observed, and a message. Use IsNotFound, IsUnauthorized and
// IsRetryable to branch on kinds without unpacking the struct.
//
// # Sessions
//
// A Session holds the bearer token for one client. Hosts register OnExpired
// callbacks to react to invalidated sessions (for example by redirecting to a
// sign-in page); the client itself performs no navigation.
//
// # Caching
//
// GET responses flow through the CacheManager, which derives stable keys,
// applies the per-request revalidation policy (RevalidateNone,
// RevalidateForce, MaxAge) and coalesces concurrent refreshes of one key into
// a single network call. Backends: in-memory (bounded), NATS JetStream KV
// (shared across processes), or none.
package relay
