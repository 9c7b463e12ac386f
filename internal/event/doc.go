/*
Package event provides the pub/sub event system of the engine.

Publishers (the session service, the agent loop, the permission approver and the
tool output sink) emit events without knowing who consumes them. In-process
subscribers receive the typed Event value. Every event is also mirrored as JSON
onto the watermill GoChannel topic Topic, which Stream exposes to consumers that
only need the wire form, such as the SSE endpoint.

# Event Types

Session: session.created, session.updated, session.deleted (SessionData).

Message: message.created, message.updated (MessageData); part.created and
part.updated (PartData, with Delta set for streamed text).

Permission: permission.asked (PermissionAskedData), permission.resolved
(PermissionResolvedData).

Loop: loop.state (LoopStateData) on every agent loop state change.

Tools: tool.output (ToolOutputData) for incremental output of long-running tools.

# Usage

	unsub := event.Subscribe(event.PartUpdated, func(e event.Event) {
		data := e.Data.(event.PartData)
		fmt.Print(data.Delta)
	})
	defer unsub()

Publish delivers asynchronously, one goroutine per subscriber. PublishSync calls
subscribers in the publishing goroutine, which keeps their order.
*/
package event
