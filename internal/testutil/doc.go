// Package testutil provides testing utilities for the service-oauth packages:
// a thread-safe controllable clock, a stub provider token endpoint with call
// counters, fixture builders for token records and pending flows, and
// assertion helpers.
package testutil
