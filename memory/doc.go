// Package memory contains the in-process core.MemoryStore implementation.
// Each agent owns a partition guarded by its own mutex so that appends from the
// decision loop and from conversation close-out are ordered per agent without
// serialising unrelated agents.
//
// Retrieval is deterministic: entries rank by importance (desc), timestamp
// (desc) and finally insertion order (later first). Eviction removes the
// lowest importance entries first, oldest first within equal importance.
package memory
