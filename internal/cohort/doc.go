// Package cohort provides the query/result coordination core of the cohort
// browser.
//
// This package owns every decision about which records are displayed. It has
// no UI or transport dependencies: the web server, the CLI and the tests all
// drive it the same way, by dispatching events into a [Coordinator].
//
// # Architecture
//
// The package is organized leaf-first:
//
//   - Criteria: the editable filter predicates and their and/or connectors,
//     normalized into the wire-ready [FilterRequest].
//   - Merge: [TableBatch] values (table name -> records) are folded into one
//     [MergedRow] per sample by a [Merger], then projected onto a fixed
//     column list with [NotAvailable] for gaps.
//   - Acquisition: the three ways of obtaining a batch from a [Source]
//     (paged bulk load, filter query, search query).
//   - Coordinator: the state machine that keeps exactly one [Mode] active,
//     tracks the bulk pagination cursor and discards stale responses.
//
// # Events
//
// UI actions are expressed as [Event] values:
//
//	coord.Dispatch(ctx, cohort.Mount{})
//	coord.Dispatch(ctx, cohort.SubmitSearch{Term: "A1*"})
//	coord.Dispatch(ctx, cohort.ScrollNearBottom{}) // ignored while searching
//
// The coordinator alone decides whether an event is legal in the current
// mode. Dispatch is safe for concurrent use; the state lock is never held
// across a network call.
//
// # Request Epochs
//
// Every operation that replaces the displayed set takes a new epoch. A
// response is applied only if its epoch is still the latest one, so the
// display always reflects the most recently initiated operation even when
// responses resolve out of order. Discarded responses surface as
// [ErrSuperseded].
//
// # Error Handling
//
// Failures never modify the displayed rows. They are reported to the
// [Notifier] using the code catalogue in [MapError]:
//
//   - AUTH001-AUTH004: missing, expired or rejected credentials
//   - VAL001-VAL003: filter and search input problems
//   - FILE001-FILE006: upload file problems
//   - NET001-NET004, API001-API003: transport and remote API failures
//   - UPL001-UPL003, RATE001: throttling and cancellation
package cohort
