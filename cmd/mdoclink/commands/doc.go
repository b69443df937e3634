// Package commands defines the mdoclink holder CLI and wires dependencies
// for subcommands.
//
// Commands
//
//   - init       Create the credential store under the home directory
//   - provision  Issue a demo mDL credential into the store
//   - list       Show stored credentials
//   - present    Engage over BLE and present credentials to a reader
//   - demo       Run a holder/reader exchange in process, no radio
//
// # Implementation
//
// The root command builds a dependency graph (stores, secure area, services)
// before any subcommand runs, so handlers share one app context.
package commands
