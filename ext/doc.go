// Package ext defines the extension contract for latch.
//
// An extension is a named unit of behavior the host loads at runtime. It
// implements Extension — identity metadata plus the four lifecycle
// callbacks — and embeds Base, which carries the private binding to the
// owning runtime: state, config, and the subscribe/unsubscribe proxy.
//
// Embedding Base is not optional: the Extension interface has an
// unexported method only Base provides, so every implementation goes
// through the explicit attach contract.
package ext
