// Package urforce runs force-mode sessions on UR-style industrial arms.
//
// A session connects to the controller's dashboard, stops whatever program
// is running, deploys the external control script and waits for it to
// report running. It then starts force mode with the argument list the
// controller version expects, keeps the connection alive at a fixed cadence
// for the requested time and ends force mode on every exit path.
//
// # Installation
//
//	go install github.com/gwillem/urforce/cmd/urforce@latest
//
// # Usage
//
// Optionally write a configuration file:
//
//	urforce setup
//
// Check the controller version and calibration:
//
//	urforce info 192.168.56.101
//
// Run a session for ten seconds, or without a duration until interrupted:
//
//	urforce run 192.168.56.101 10
//	urforce run --tui --monitor :8080 192.168.56.101
//
// Use --sim to run against a simulated actuator.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/urforce: CLI with run, setup and info commands
//   - pkg/session: Handshake, force-mode dispatch, keepalive loop and shutdown
//   - pkg/robot: Shared types, configuration and calibration files
//   - pkg/dashboard: Dashboard server client
//   - pkg/urdriver: Network driver for the external control script
//   - pkg/sim: Simulated actuator
//   - pkg/monitor: HTTP and websocket status endpoint
//   - pkg/rt: Real-time scheduling for the keepalive loop
package urforce
