// Package cli is trajetctl, the terminal client: log in, search trips,
// look at a seat map and book a seat against the Booking API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
)

const sessionKey = "cli"

const version = "0.3.0"

// App is what every command runs against.  It is built once the flags
// are parsed.
type App struct {
	cfg  config.ClientConfig
	log  *logrus.Logger
	out  io.Writer
	sess *session.Session
	api  *bookingapi.Client
	auth *service.AuthService
}

// NewRootCmd returns the trajetctl command tree.
func NewRootCmd() *cobra.Command {
	app := &App{}
	var (
		apiURL     string
		sessionDir string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "trajetctl",
		Short:         "Book bus seats from the terminal",
		Long:          `Search trips, inspect seat maps and book seats against the Booking API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadClient()
			if apiURL != "" {
				cfg.APIBaseURL = apiURL
			}
			if sessionDir != "" {
				cfg.SessionDir = sessionDir
			}
			if verbose {
				cfg.LogLevel = "debug"
			}
			return app.init(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api", "", "Booking API root (default $API_BASE_URL)")
	root.PersistentFlags().StringVar(&sessionDir, "session-dir", "", "where the session is kept (default $SESSION_DIR or the user config dir)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log API calls to stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the trajetctl version",
			// Runs without a session.
			PersistentPreRun: func(*cobra.Command, []string) {},
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "trajetctl %s\n", version)
			},
		},
		loginCmd(app),
		registerCmd(app),
		logoutCmd(app),
		whoamiCmd(app),
		tripsCmd(app),
		seatsCmd(app),
		bookCmd(app),
		reservationsCmd(app),
		cancelCmd(app),
		watchCmd(app),
	)
	return root
}

// Execute runs trajetctl and exits non-zero on failure.
func Execute() {
	ctx := context.Background()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func (a *App) init(ctx context.Context, cfg config.ClientConfig, out, errOut io.Writer) error {
	log := logrus.New()
	log.SetOutput(errOut)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	log.SetLevel(level)

	dir := cfg.SessionDir
	if dir == "" {
		if dir, err = session.DefaultDir(); err != nil {
			return fmt.Errorf("locate session dir: %w", err)
		}
	}
	store := session.NewSealedStore(session.FileStore{Dir: dir}, cfg.SessionKey)
	sess, err := session.Load(ctx, store, sessionKey, log)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	a.cfg = cfg
	a.log = log
	a.out = out
	a.sess = sess
	a.api = bookingapi.New(bookingapi.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		Logger:    log,
		UserAgent: "trajetctl/" + version,
	}, sess)
	a.auth = service.NewAuthService(a.api, sess, log)
	return nil
}

func (a *App) requireLogin() error {
	if !a.sess.LoggedIn() {
		return service.ErrNotLoggedIn
	}
	return nil
}

// describe turns an error into the line shown to the user.
func describe(err error) string {
	var apiErr *bookingapi.APIError
	switch {
	case errors.Is(err, service.ErrNotLoggedIn):
		return "you are not logged in, run: trajetctl login"
	case errors.Is(err, bookingapi.ErrSessionExpired):
		return "your session has expired, run: trajetctl login"
	case bookingapi.IsUnreachable(err):
		return "the booking service cannot be reached"
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	}
	return err.Error()
}
