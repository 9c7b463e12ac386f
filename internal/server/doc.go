// Package server exposes the engine over HTTP.
//
// The server is a chi router with request ID, logging, recovery and CORS
// middleware in front of the session service. Handlers translate requests
// into session.Service calls and map engine errors onto status codes.
//
// # API Endpoints
//
//   - GET/POST /session: list and create sessions
//   - GET/PATCH/DELETE /session/{id}: read, rename or archive, delete
//   - GET/POST /session/{id}/message: history, and a user turn that runs the loop
//   - POST /session/{id}/fork, /abort, /compact; GET /children, /status, /usage
//   - PUT /session/{id}/permission: replace the session-scoped rules
//   - GET /permission: pending permission prompts
//   - POST /session/{id}/permissions/{permissionID}: answer a prompt
//   - GET /event, /global/event: Server-Sent Events
//   - GET /config, /agent, /tool
//
// # Event Streaming
//
// /global/event relays the JSON mirror of every bus event. /event does the
// same, or with ?sessionID= only that session's events. Every stream opens
// with a server.connected event and sends a heartbeat comment every 30s.
//
//	event: message
//	data: {"type":"part.updated","properties":{"part":{...},"delta":"Hel"}}
//
// # Errors
//
// Errors use one body shape:
//
//	{"error": {"code": "SESSION_BUSY", "message": "session is busy: ses_..."}}
//
// Unknown sessions, messages and permission requests answer 404, a session
// with an active run 409, malformed input 400.
package server
