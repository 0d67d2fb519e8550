// Package engine drives autonomous fix sessions through their lifecycle:
//
//	ANALYZING -> GENERATING -> VALIDATING -> (SELF_HEALING <-> VALIDATING)*
//	          -> REVIEWING -> PR_CREATED -> READY
//
// with FAILED and CANCELLED as sinks. Transitions are forward-only and
// guarded; every decision is recorded in an ordered audit trail that
// survives the session.
//
// One session is processed end-to-end sequentially. Sessions for different
// issues run concurrently through a bounded worker pool fed by a work queue;
// publishing is serialized per target branch. Validation failures are data
// driving the bounded self-heal loop, never errors. Oracle and VCS failures
// move the session to FAILED with the message retained; store failures are
// logged and never block progress.
package engine
