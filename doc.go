// Package grpchost manages a single in-process gRPC listener whose service
// set is contributed dynamically by independent subsystems of a long-running
// server process.
//
// # Architecture
//
// The module is a small state machine wrapped around the blocking native
// listener calls:
//
//   - server: the lifecycle state machine (Stopped/Running/Stopping/
//     Shutdown), the owner-keyed service registry, the debounced restart
//     coordinator, and the process-wide accessor.
//   - pkg/bridge: a fixed-size worker pool that runs the synchronous
//     listen/bind/stop calls off the caller's goroutine and hands the
//     outcome back as a one-shot completion.
//   - credentials: transport credential providers queried at every
//     (re)build of the listener.
//   - throttleconf: a sibling poller that refreshes throttling-relevant
//     server limits from a KV bucket in the background.
//   - config, errors, metric, health: platform plumbing shared by the
//     packages above.
//
// # Usage
//
// A process initializes the global instance once during network bring-up:
//
//	gs, err := server.Init(provider, "0.0.0.0:4500", opts...)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := gs.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Subsystems then register their services independently; bursts of
// registration changes coalesce into a single listener restart:
//
//	server.Instance().RegisterRoleServices(ownerID, []server.Service{svc})
//	defer func() { <-server.Instance().DeregisterRoleServices(ownerID) }()
//
// Normal teardown must call Shutdown and wait for it; the blocking Close
// fallback exists only for process-exit safety.
package grpchost
