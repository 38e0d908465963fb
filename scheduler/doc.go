// Package scheduler drives every agent's decide-act cycle.
//
// Each agent gets its own loop that starts after a deterministic offset and
// then ticks at a fixed period. A tick gathers perception and ranked
// memories, asks the inference gateway for a decision, and dispatches the
// result to the task executor or the conversation manager. Ticks for one
// agent never overlap: a tick that fires while the previous one is still
// deciding is suppressed.
//
// The Scheduler also produces conversation lines for the conversation
// manager through NextLine.
package scheduler
