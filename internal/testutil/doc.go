// Package testutil contains builders for agents and records plus a shared
// conformance suite for core.RecordStore implementations. It is only meant
// for tests.
package testutil
