package types

import "errors"

var (
	// ErrDecodeMismatch marks call data that matched a router but could not be
	// decoded into a swap. The transaction is skipped.
	ErrDecodeMismatch = errors.New("decode mismatch")

	// ErrSchemaInconsistency means a registry entry disagrees with the data it
	// decoded. The router registry cannot be trusted when this is seen.
	ErrSchemaInconsistency = errors.New("schema inconsistency")

	// ErrSimulationUnavailable is returned when the sandbox or the pool
	// source cannot be reached. Callers may retry or fall back.
	ErrSimulationUnavailable = errors.New("simulation unavailable")

	// ErrStaleBundleTarget rejects a bundle whose target block is not in
	// (current, current+horizon].
	ErrStaleBundleTarget = errors.New("stale bundle target")

	// ErrBundleSubmissionFailed is returned when the relay rejects a bundle or
	// returns no bundle hash.
	ErrBundleSubmissionFailed = errors.New("bundle submission failed")

	// ErrBundleTimeout is returned when a bundle status never resolved.
	ErrBundleTimeout = errors.New("bundle status timeout")
)
