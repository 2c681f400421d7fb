// Leadline CLI entry point.
//
// Leadline is an offline-first lead intake tool for sales agents: call
// tracking, lead qualification, and a durable queue that replays writes to
// the remote store once connectivity returns.
package main

import "github.com/jbctechsolutions/leadline/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
