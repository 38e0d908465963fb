// Package core provides the domain types and small interfaces shared by the
// agenttown simulation packages:
//
//   - Agents with a closed State machine and an exclusive conversation flag
//   - Tasks and the priority ordered TaskQueue
//   - Memory entries and the MemoryStore contract
//   - Perception snapshots, relations and the persisted Record
//   - Simulation Events and sentinel errors
//
// The package performs no I/O. Concrete stores, the inference gateway and the
// schedulers live in their own packages and depend on core, never the other
// way around.
package core
