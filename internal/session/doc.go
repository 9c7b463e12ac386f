// Package session runs conversations and manages their persisted state.
//
// # Processor
//
// Processor.Run appends a user turn and drives the agent loop for it:
//
//	Idle -> Streaming -> (Resolving -> Streaming)* -> Idle | Failed
//
// Each Streaming phase is one step. It opens with a StepPart{start}, streams
// the provider's output into text, reasoning and pending tool call parts and
// closes with a StepPart{finish} carrying the step's usage. Retryable provider
// errors are retried with exponential backoff as long as nothing from the
// failed attempt was persisted.
//
// When the step produced tool calls the loop resolves them: every call is
// validated, then authorized by the permission engine one at a time in issue
// order, and the allowed calls run in parallel through the tool executor.
// Results are appended in issue order, after which the loop streams again.
//
// A run ends when the model answers without calling tools, when the step
// limit is reached or the answer is cut off at the model's output limit
// (OutputLimitError), when the provider fails for good or
// when it is aborted. Every transition is published as a loop.state event.
// Only one run per session may be active; a second one gets ErrBusy.
//
// # Compaction
//
// Processor.Compact summarizes all but the last few messages and appends the
// summary as an assistant message carrying a types.Compaction marker. The log
// is never rewritten: ActiveHistory swaps the covered range for the summary
// when the next request is built. Compact takes the same busy guard as Run.
//
// # Service
//
// Service wraps the message store with the session lifecycle: creation,
// listing, forking, cascading deletion, titles, archiving, session-level
// permission rules, compaction and usage.
//
//	svc := session.NewService(store, processor)
//	sess, err := svc.Create(ctx, session.CreateInput{Directory: "/path/to/project"})
//	msg, err := svc.Run(ctx, session.RunInput{SessionID: sess.ID, Text: "List the Go files"})
package session
