// Command copybridge runs the trade-signal copy bridge. One binary ships
// every role; the supervisor re-invokes it with --role for each worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runnelsdev/copybridge/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	role := flag.String("role", "", "role to run: supervisor, engine, follower, streamer or simulator")
	flag.Parse()

	if err := run(*configPath, *role); err != nil {
		fmt.Fprintf(os.Stderr, "copybridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, role string) error {
	app, err := bootstrap.NewApp(configPath, role)
	if err != nil {
		return err
	}

	if app.Role == "supervisor" {
		return app.Run(app.SupervisorRunner("engine", "follower", "streamer"))
	}

	if app.Role != "simulator" {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		startupCtx, startupCancel := context.WithTimeout(ctx, 60*time.Second)
		err := app.Startup(startupCtx)
		startupCancel()
		cancel()
		if err != nil {
			return err
		}
	}

	runners, err := app.Runners()
	if err != nil {
		return err
	}
	return app.Run(runners...)
}
