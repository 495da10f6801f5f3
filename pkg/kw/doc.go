// Package kw implements typed keyword arguments for HTTP API call sites.
//
// A Keyword is a named, typed parameter registered once at package
// initialisation:
//
//	var Port = kw.New[int]("port", kw.Int[int])
//
// Call sites receive an ordered list of arguments produced by Set:
//
//	c.RegisterService(ctx, agent.Name.Set("web"), agent.Port.Set(8080))
//
// The receiving function validates the list against the Group of keywords it
// accepts and resolves it into a Set, where the last occurrence of a keyword
// wins:
//
//	set, err := kw.Bind(allowed, args...)
//	port := Port.GetOr(set, 80)
//
// Keywords that carry a Renderer are turned into URL query tokens by
// Set.Query and BuildURL; keywords without one are only read by the call
// site (request bodies, headers).
//
// Membership is checked when the call runs, not at compile time. Unknown
// keywords fail with ErrUnsupportedParameter, absent required ones with
// ErrMissingParameter.
package kw
