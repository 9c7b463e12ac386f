// Package permission decides whether a tool call may run.
//
// # Rules
//
// A rule maps a tool name and an optional pattern to allow, ask or deny:
//
//	{"tool": "bash", "pattern": "rm *", "action": "deny"}
//	{"tool": "edit", "pattern": "src/**", "action": "allow"}
//	{"tool": "*", "action": "ask"}
//
// Engine.Check resolves an Action in three steps, stopping at the first
// that matches:
//
//  1. rules remembered for the session (Remember, or an "always" answer)
//  2. configuration rules
//  3. allow for read-only tools, ask otherwise
//
// Within each step the most specific rule wins. An exact tool name beats a
// wildcard, a pattern beats none, and fewer wildcards beat more.
//
// # Targets
//
// Shell commands are parsed with mvdan.cc/sh and every simple command in a
// pipeline or list is checked on its own; the strictest verdict wins, so
// "ls && rm -rf /" is denied by a "rm *" deny rule. Command patterns use
// "*" wildcards. File paths are matched with doublestar globs, both as given
// and relative to the working directory.
//
// # Approval
//
// Engine.Authorize hands ASK verdicts to an Approver and waits at most the
// approval timeout. Prompts are serialized per session. A timeout, an
// unreachable approver or a "reject" answer all yield a *DeniedError.
//
// BusApprover publishes permission.asked on the event bus and waits for
// Respond, which the HTTP server and the CLI call. PolicyApprover answers
// without a human.
//
// # Doom loops
//
// The same tool called with identical input DoomLoopThreshold times in a row
// is escalated to ASK even when a rule allows it.
package permission
