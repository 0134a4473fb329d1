// Package latch is an in-process extension runtime for Go hosts. It lets
// independently authored extensions attach behavior to named hooks and
// manages their full lifecycle — discovery, load, enable/disable, unload,
// reload — without the host needing compile-time knowledge of them.
//
// Latch is designed as a library, not a service. The host constructs one
// Manager at its composition root and wires it explicitly; there is no
// process-wide default instance.
//
// # Quick Start
//
//	m, err := latch.New(
//	    latch.WithStore(file.New("./plugins/config")),
//	    latch.WithSource(src),
//	)
//	if err != nil { ... }
//	if err := m.Start(ctx); err != nil { ... }
//
//	hc := m.Dispatch(ctx, hook.AppStart, map[string]any{"version": "1.2.0"})
//	if hc.Aborted() { ... }
//
// # Architecture
//
// The hook package holds the priority-ordered subscription registry and
// the dispatch protocol. The ext package defines the extension contract:
// identity metadata, the four lifecycle callbacks, and an embeddable Base
// carrying the private binding to the runtime. The store package defines
// the persistence collaborator (per-extension config blobs plus the
// enabled set restored at startup), with memory, file, redis, and
// postgres backends. The Manager in this package drives the lifecycle
// state machine and owns the registry of live instances.
//
// Failures stay local: a broken unit doesn't abort discovery, a failing
// callback doesn't stop the dispatch chain, and an extension stuck in its
// error state affects nothing but itself.
package latch
