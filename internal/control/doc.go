// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics and debug introspection layer shared by
// the reactor, socket and websocket packages.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates with reload
//     listeners
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
