// Package mcp connects to Model Context Protocol servers and exposes their
// tools through the tool registry.
//
// Servers are declared under the "mcp" configuration key:
//
//	{
//	  "mcp": {
//	    "docs": {"type": "remote", "url": "https://example.com/mcp"},
//	    "calc": {"type": "local", "command": ["npx", "-y", "some-mcp-server"]}
//	  }
//	}
//
// Remote servers are tried with the streamable HTTP transport first and the
// SSE transport second. Local servers are started as subprocesses and spoken
// to over stdio.
//
// Each server tool is registered as "<server>_<tool>", with both parts reduced
// to letters, digits and underscores. MCP tools are never read-only, so the
// permission engine asks before running them unless a rule says otherwise.
//
// A server that fails to connect is logged and skipped; Status reports it.
package mcp
