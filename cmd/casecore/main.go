// Command casecore runs the operator batch jobs of the casecore service:
// age progression backfill, audit and progression exports, and at-rest
// encryption verification. Configuration comes from CASECORE_* variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "casecore:", err)
		exitFunc(1)
	}
}
