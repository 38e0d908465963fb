// Package conversation runs exclusive two-party conversations.
//
// TryStart is the only way into a session: it engages both agents atomically
// (neither may already be engaged), moves both to Talking and starts one turn
// goroutine per session. Turns strictly alternate between the participants;
// each line comes from a LineGenerator. A session ends when a line asks to
// end it, when the turn cap is reached, when it stays idle beyond the idle
// timeout or when End is called. End is idempotent: the close-out (both
// agents back to Idle, one interaction memory per participant, relation
// update) happens exactly once.
package conversation
