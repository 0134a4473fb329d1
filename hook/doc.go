// Package hook provides the named extension points of a latch runtime.
//
// A Bus holds, per hook name, a priority-ordered list of subscriptions and
// executes the notification protocol: subscribers run sequentially in
// ascending priority order, each receiving the same mutable Context, so a
// later subscriber observes the mutations of earlier ones. A subscriber can
// short-circuit the chain (Skip), cancel the operation the hook guards
// (Abort), or let it proceed (Continue, Modified).
//
// Subscriber failures are isolated: a callback that returns an error or
// panics is logged and recorded as Continue, and the rest of the chain
// still runs.
package hook
