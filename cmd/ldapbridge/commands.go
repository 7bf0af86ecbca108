package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/isometry/ldapbridge/internal/api"
	"github.com/isometry/ldapbridge/internal/auth"
	"github.com/isometry/ldapbridge/internal/config"
	"github.com/isometry/ldapbridge/internal/ldap"
	"github.com/isometry/ldapbridge/internal/logging"
	"github.com/isometry/ldapbridge/internal/users"
)

const shutdownTimeout = 10 * time.Second

// app holds the components shared by the commands.
type app struct {
	backend *auth.Backend
	repo    *users.SQLRepository
}

func newApp(ctx context.Context, settings *config.Settings) (*app, error) {
	authConfig, err := auth.ConfigFromSettings(settings)
	if err != nil {
		return nil, err
	}

	connConfig, err := settings.ConnectionConfig()
	if err != nil {
		return nil, err
	}
	dialer, err := ldap.NewDialer(connConfig)
	if err != nil {
		return nil, err
	}

	repo, err := users.OpenSQL(ctx, settings.Database.Driver, settings.Database.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open user database")
	}

	return &app{
		backend: auth.NewBackend(authConfig, dialer, users.NewService(repo)),
		repo:    repo,
	}, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}

func serve(ctx context.Context, settings *config.Settings) error {
	a, err := newApp(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              settings.HTTP.Listen,
		Handler:           api.NewRouter(ctx, a.backend, a.backend.Users(), api.ConfigFromSettings(settings)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.SubsystemInfo(ctx, logging.SubsystemAPI, "Serving login API", map[string]any{
			"listen": settings.HTTP.Listen,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	logging.SubsystemInfo(ctx, logging.SubsystemAPI, "Shutting down login API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down server")
	}
	return nil
}

func syncUsers(ctx context.Context, settings *config.Settings, stdout io.Writer) error {
	a, err := newApp(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.backend.SyncUsers(ctx)
	fmt.Fprintf(stdout, "created=%d updated=%d skipped=%d failed=%d\n",
		result.Created, result.Updated, result.Skipped, result.Failed)
	if err != nil {
		return errors.Wrap(err, "sync failed")
	}
	if result.Failed > 0 {
		return errors.Errorf("%d users failed to sync", result.Failed)
	}
	return nil
}

func cleanUsers(ctx context.Context, settings *config.Settings, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("clean", flag.ContinueOnError)
	flags.SetOutput(stderr)
	purge := flags.Bool("purge", false, "delete rather than deactivate missing users")
	if err := flags.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.backend.CleanUsers(ctx, *purge)
	if err != nil {
		return errors.Wrap(err, "clean failed")
	}
	fmt.Fprintf(stdout, "checked=%d deactivated=%d deleted=%d\n",
		result.Checked, result.Deactivated, result.Deleted)
	return nil
}

func promote(ctx context.Context, settings *config.Settings, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: ldapbridge promote <username>")
	}

	a, err := newApp(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.backend.Promote(ctx, args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to promote %s", args[0])
	}
	fmt.Fprintf(stdout, "promoted %s\n", user.Username)
	return nil
}

// bindName needs only the directory mapping, so it neither dials nor opens the
// user database.
func bindName(settings *config.Settings, args []string, stdout io.Writer) error {
	authConfig, err := auth.ConfigFromSettings(settings)
	if err != nil {
		return err
	}

	values := make([]any, len(args))
	for i, arg := range args {
		values[i] = arg
	}

	name, err := auth.NewBackend(authConfig, nil, nil).BindName(values, nil)
	if err != nil {
		return errors.Wrap(err, "failed to format bind name")
	}
	fmt.Fprintln(stdout, name)
	return nil
}

func whoAmI(ctx context.Context, settings *config.Settings, stdout io.Writer) error {
	a, err := newApp(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.backend.WhoAmI(ctx)
	if err != nil {
		return errors.Wrap(err, "whoami failed")
	}
	fmt.Fprintf(stdout, "%s (%s)\n", result.Name, result.Format)
	return nil
}
