// Command frostsnap-coordinator is the CLI host for the Frostsnap engine:
// it owns a coordinator.Engine, a durable event store, and (for local
// testing without real hardware) a directory of simulated devices, wiring
// them together behind the keygen/sign/status/backup/firmware/erase
// command surface spec.md section 6 names.
package main

import "os"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitProtoOrData)
	}
}
