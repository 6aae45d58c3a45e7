// Command asyncqueue runs job files (lists of shell commands) through a
// bounded-concurrency queue, once or on a schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, errRunFailed) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
	}
	os.Exit(1)
}
