// Package cancel provides cooperative, polled cancellation of agent runs.
//
// A client stops a run by arming a per-conversation flag (Registry.Arm). The
// running agent never gets interrupted; instead it holds a Token and consults
// it at each suspension point. Token.Check reads the flag at most once per
// poll interval so busy streams do not hammer the flag store, and Token.Force
// reads it unconditionally right before results are committed.
package cancel
