// Command ldapbridge authenticates users against an LDAP directory and keeps
// local accounts in step with it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/isometry/ldapbridge/internal/config"
	"github.com/isometry/ldapbridge/internal/logging"
)

const usage = `Usage: ldapbridge [-config path] <command> [arguments]

Commands:
  serve                 serve the login API
  sync                  create or update local users from the directory
  clean [-purge]        deactivate (or delete) local users missing from the directory
  promote <username>    make a local user staff and superuser
  bindname <values...>  print the bind name for the given lookup field values
  whoami                print the identity of the service connection
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "ldapbridge:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("ldapbridge", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := flags.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "config file or directory")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("no command given")
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	ctx = logging.NewContext(ctx, logging.New("ldapbridge", stderr, settings.Log.JSON))
	for _, subsystem := range []string{logging.SubsystemLDAP, logging.SubsystemAuth, logging.SubsystemUsers, logging.SubsystemAPI} {
		ctx = logging.NewSubsystem(ctx, subsystem)
	}

	shutdown, err := setupTracing(ctx, settings.Tracing, stderr)
	if err != nil {
		return errors.Wrap(err, "failed to set up tracing")
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	command, commandArgs := flags.Arg(0), flags.Args()[1:]
	switch command {
	case "serve":
		return serve(ctx, settings)
	case "sync":
		return syncUsers(ctx, settings, stdout)
	case "clean":
		return cleanUsers(ctx, settings, commandArgs, stdout, stderr)
	case "promote":
		return promote(ctx, settings, commandArgs, stdout)
	case "bindname":
		return bindName(settings, commandArgs, stdout)
	case "whoami":
		return whoAmI(ctx, settings, stdout)
	default:
		flags.Usage()
		return errors.Errorf("unknown command %q", command)
	}
}
