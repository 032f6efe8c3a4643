// Package server exposes a polling coordinator over HTTP.
//
// # Routes
//
//	GET  /api/snapshot          last snapshot with status (503/401 when none is served)
//	GET  /api/registers         catalog registers with decoded values
//	GET  /api/registers/{name}  one register
//	PUT  /api/registers/{name}  {"value": 21.5} validated write
//	POST /api/values            {"key": "...", "value": "..."} raw write
//	POST /api/refresh           refresh now and return the snapshot
//	GET  /healthz               200 while serving, 503 unavailable, 401 auth failed
//	GET  /metrics               Prometheus metrics
//	GET  /ws                    WebSocket stream of updates
//
// Reads never touch the controller; they serve what the coordinator holds.
// Writes and refreshes map errors to status codes: validation 400, unknown
// register 404, authentication 401, communication 502.
//
// # Stream
//
// A /ws client first receives {"type":"snapshot",...} with the current state
// and then {"type":"update",...} for every refresh and status change. The
// server pings every 54 seconds and drops clients that do not answer within
// 60 seconds or fall 16 messages behind.
//
// # Lifecycle
//
//	srv, err := server.New(server.Config{Listen: ":8080"}, coord)
//	if err != nil {
//		return err
//	}
//	return srv.Start(ctx) // blocks until SIGINT/SIGTERM or ctx is done
//
// Shutdown waits up to ShutdownTimeout for in-flight requests.
package server
