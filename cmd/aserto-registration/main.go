package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aserto-dev/oidc-registration/pkg/app"
	"github.com/aserto-dev/oidc-registration/pkg/registration"
	"github.com/aserto-dev/oidc-registration/pkg/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var (
	flagConfigPath string
	flagClaimsPath string
	flagContextID  string
	flagUserID     string
)

var rootCmd = &cobra.Command{
	Use:           "aserto-registration [flags]",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aserto-registration %s\n", version.GetInfo().String())
	},
}

var cmdRun = &cobra.Command{
	Use:   "run [args]",
	Short: "Start registration service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return start(cmd.Context(), flagConfigPath)
	},
}

var cmdLink = &cobra.Command{
	Use:   "link [args]",
	Short: "Match or create the user for a set of claims and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHandler(cmd.Context(), func(ctx context.Context, handler *registration.Handler, req *app.RegistrationRequest) error {
			user, err := handler.CreateOrLinkUser(ctx, req.ContextID, req.ToClaims())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(user)
		})
	},
}

var cmdUpdate = &cobra.Command{
	Use:   "update [args]",
	Short: "Refresh an existing user from a set of claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHandler(cmd.Context(), func(ctx context.Context, handler *registration.Handler, req *app.RegistrationRequest) error {
			return handler.UpdateUser(ctx, flagUserID, req.ContextID, req.ToClaims())
		})
	},
}

// nolint: gochecknoinits
func init() {
	for _, cmd := range []*cobra.Command{cmdRun, cmdLink, cmdUpdate} {
		cmd.Flags().StringVarP(&flagConfigPath, "config", "c", "", "config path")
	}

	for _, cmd := range []*cobra.Command{cmdLink, cmdUpdate} {
		cmd.Flags().StringVar(&flagClaimsPath, "claims", "", "path of a JSON file with the login claims")
		cmd.Flags().StringVar(&flagContextID, "context", "", "context id of the login")
		_ = cmd.MarkFlagRequired("claims")
	}

	cmdUpdate.Flags().StringVar(&flagUserID, "user", "", "id of the user to update")
	_ = cmdUpdate.MarkFlagRequired("user")

	rootCmd.AddCommand(cmdRun, cmdLink, cmdUpdate)
}

func main() {
	rootCmd.AddCommand(
		versionCmd,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err.Error())
	}
}

func start(ctx context.Context, cfgPath string) error {
	srv, err := app.NewServer(cfgPath, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Run(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

type handlerFunc func(ctx context.Context, handler *registration.Handler, req *app.RegistrationRequest) error

func withHandler(ctx context.Context, fn handlerFunc) error {
	req, err := readRequest(flagClaimsPath)
	if err != nil {
		return err
	}

	if flagContextID != "" {
		req.ContextID = flagContextID
	}

	srv, err := app.NewServer(flagConfigPath, os.Stderr, os.Stderr)
	if err != nil {
		return err
	}

	handler, closeFn, err := app.NewRegistrationHandler(ctx, srv.Config(), srv.Logger(), nil)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeFn(); err != nil {
			srv.Logger().Error().Err(err).Msg("failed to close directory connection")
		}
	}()

	return fn(ctx, handler, req)
}

// readRequest accepts either a bare claims object or a full registration request.
func readRequest(path string) (*app.RegistrationRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read claims file %q", path)
	}

	req := &app.RegistrationRequest{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, errors.Wrapf(err, "failed to parse claims file %q", path)
	}

	if req.Claims == nil {
		if err := json.Unmarshal(raw, &req.Claims); err != nil {
			return nil, errors.Wrapf(err, "failed to parse claims file %q", path)
		}
	}

	return req, nil
}
