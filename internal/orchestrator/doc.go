// Package orchestrator turns one inbound message into case and task writes.
//
// # Overview
//
// Process runs a fixed sequence against two independently owned services:
//
//	resolve case → append entry ∥ extract → reconcile → write tasks → reply
//
// For an existing case the conversation append and the extraction run
// concurrently. For a new case extraction runs first so the first candidate
// can title the case.
//
// # Failure Semantics
//
// Case store failures are fatal. An unknown case id returns an *Error with
// KindCaseNotFound; any other case store failure returns
// KindUpstreamUnavailable. Task store failures are recorded per candidate as
// notes on the Result and never abort the request.
//
// Extraction never fails: the extraction facade falls back to the
// deterministic extractor on any model error.
//
// # Reconciliation
//
// A candidate whose normalized title and type match an open task (Pending,
// InProgress or OnHold) updates that task. Everything else is created.
// Candidates that normalize to the same key within one message collapse
// onto the first.
//
// # Events
//
// After each successful Process a message_processed event is published,
// followed by tasks.created and tasks.updated when those lists are
// non-empty. Publish errors are logged.
package orchestrator
