// Package consul is a typed client for the Consul agent HTTP API.
//
// A Client owns the transport and the request plumbing; the resource
// facades in the sub-packages (agent, catalog, health, kv, sessions,
// status, coordinate) map fixed endpoints onto Go types.
//
// # Connecting
//
//	c, err := consul.New("127.0.0.1:8500",
//	    consul.WithToken(token),
//	    consul.WithDatacenter("dc1"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
// # Keyword arguments
//
// Endpoints take optional parameters as keyword arguments (see package kw).
// Arguments repeat freely; the last occurrence of a keyword wins:
//
//	store := kv.New(c, consul.Consistency.Set(consul.Stale))
//	item, err := store.Item(ctx, "app/config", consul.DC.Set("dc2"))
//
// A keyword the endpoint does not accept fails with
// kw.ErrUnsupportedParameter before any request is sent.
//
// # Blocking queries
//
// Read endpoints have a *Response variant returning Response[T], whose Meta
// carries the consistency index. Passing it back with Block turns the next
// read into a long poll:
//
//	r, err := store.ItemResponse(ctx, "app/config")
//	r, err = store.ItemResponse(ctx, "app/config", consul.Block(5*time.Minute, r.Meta.Index))
//
// Package watch wraps this loop.
//
// # Cancellation
//
// WithRequestTimeout and WithConnectTimeout bound each request; elapsed
// timeouts fail with ErrRequestTimedOut. Client.Stop aborts every pending
// request with ErrOperationAborted.
package consul
