// Package agent defines the agent profiles a run executes under.
//
// A profile decides which tools the model is offered, contributes permission
// rules that are evaluated together with the configuration rules, and carries
// the system prompt, temperature, model override and step limit of a run.
//
// Two profiles are built in:
//
//   - build: the default. Every tool is enabled and no extra rules apply.
//   - plan: analysis only. edit and write are hidden from the model, and
//     edit, write and bash are denied should the model call them anyway.
//
// Tool switches accept exact names and doublestar patterns:
//
//	tools:
//	  "*": true
//	  "web*": false
//
// An exact entry wins over patterns, and longer patterns win over shorter
// ones. Registry.LoadFromConfig layers the "agent" and "tools" configuration
// sections over the built-in profiles and defines new profiles from them.
package agent
