// Package task executes and generates agent tasks.
//
// The Executor pops the highest priority incomplete task of an agent and
// dispatches it by category: move tasks go to the external Navigator, converse
// tasks to the conversation handshake, and reflect tasks to the inference
// gateway. Every task that finishes, successfully or not, leaves exactly one
// outcome memory. A converse task whose partner is busy goes back into the
// queue untouched.
//
// The Generator asks the inference gateway for new tasks seeded by the
// agent's personality and falls back to the personality's seed tasks.
package task
