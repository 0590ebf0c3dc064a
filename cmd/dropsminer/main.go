// Command dropsminer runs the drops-mining core standalone: it logs in,
// maintains the inventory of campaigns, discovers and watches the best
// eligible channel, and claims rewards as they become earnable.
//
// Grounded on the teacher's cmd/qntx/main.go (cobra root command,
// PersistentPreRunE logger init, CountP verbosity flag) generalized from a
// multi-subcommand CLI to this single long-running daemon plus --dump.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dropsminer/core/internal/auth"
	"github.com/dropsminer/core/internal/channelsvc"
	"github.com/dropsminer/core/internal/config"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/gql"
	"github.com/dropsminer/core/internal/httpclient"
	"github.com/dropsminer/core/internal/inventory"
	"github.com/dropsminer/core/internal/logger"
	"github.com/dropsminer/core/internal/metrics"
	"github.com/dropsminer/core/internal/scheduler"
	"github.com/dropsminer/core/internal/wspool"
)

// version is stamped at release time; left as a plain var (no
// ldflags-injected build-info package exists in this pack) per spec.md §6
// CLI surface's --version flag.
var version = "dev"

var (
	verbosity   int
	dump        bool
	debugWS     bool
	debugGQL    bool
	settingsArg string
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "dropsminer",
	Short: "Automates accrual and claiming of time-gated viewership drops",
	Long: `dropsminer impersonates a viewer on the single best eligible channel at
any moment, tracks drop campaigns the account is eligible for, and claims
rewards as they become available — without downloading any audio or video.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Println("dropsminer " + version)
			return nil
		}
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase log verbosity (repeat for more detail: -v, -vv, -vvv, -vvvv)")
	rootCmd.Flags().BoolVar(&dump, "dump", false,
		"run a single inventory fetch, print a JSON snapshot, and exit")
	rootCmd.Flags().BoolVar(&debugWS, "debug-ws", false, "log raw websocket frames at debug level")
	rootCmd.Flags().BoolVar(&debugGQL, "debug-gql", false, "log raw GraphQL request/response bodies at debug level")
	rootCmd.Flags().StringVar(&settingsArg, "settings", "", "path to settings.toml (default: searched upward, then ~/.dropsminer)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print the version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// settingsLoadError tags a run() error as originating from settings load,
// so exitCodeFor can map it to spec.md §6's reserved exit code 4 without
// losing the underlying cause.
type settingsLoadError struct{ cause error }

func (e *settingsLoadError) Error() string { return e.cause.Error() }
func (e *settingsLoadError) Unwrap() error { return e.cause }

// exitCodeFor maps a top-level run error to spec.md §6's CLI exit codes:
// 0 normal, 1 fatal runtime error, 4 settings-load error. Code 3 (already
// running lock) is reserved but this reimplementation doesn't take a
// process lock, so it's never emitted.
func exitCodeFor(err error) int {
	var target *settingsLoadError
	if dmerrors.As(err, &target) {
		return 4
	}
	return 1
}

// debugVerbosity folds the undocumented --debug-ws/--debug-gql flags into
// the regular -v verbosity count: both simply mean "show me DEBUG-level
// frame tracing from those packages", which is what bumping to the DEBUG
// level already buys, per spec.md §6.
func debugVerbosity(v int) int {
	if (debugWS || debugGQL) && v < 3 {
		return 3
	}
	return v
}

func run(ctx context.Context) error {
	if err := logger.Initialize(dump, debugVerbosity(verbosity)); err != nil {
		return dmerrors.Wrap(err, "initialize logger")
	}

	settings, err := config.Load(settingsArg)
	if err != nil {
		return &settingsLoadError{cause: dmerrors.Wrap(err, "load settings")}
	}

	cookiesPath, err := defaultCookiesPath()
	if err != nil {
		return dmerrors.Wrap(err, "resolve cookie jar path")
	}

	var proxyURL *url.URL
	if settings.Proxy != "" {
		proxyURL, err = url.Parse(settings.Proxy)
		if err != nil {
			return dmerrors.Wrapf(err, "parse settings proxy %q", settings.Proxy)
		}
	}

	session, err := httpclient.NewSession(httpclient.Config{
		ConnectionQuality: settings.ConnectionQuality,
		UserAgent:         auth.WebClient.UserAgent,
		CookieJarPath:     cookiesPath,
		Proxy:             proxyURL,
	})
	if err != nil {
		return dmerrors.Wrap(err, "build http session")
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warnw("main: failed to persist cookie jar", "error", cerr.Error())
		}
	}()

	authState := auth.New(session, auth.WebClient, auth.ConsolePrompter{}, cookiesPath)
	gqlClient := gql.NewClient(session, authState)
	invSvc := inventory.New(gqlClient, authState)
	chanSvc := channelsvc.New(gqlClient)

	// The pool's dispatch handler and the scheduler it feeds are mutually
	// dependent (pool.New wants a Handler up front; Scheduler.New wants a
	// built Pool). sched is assigned once both exist; the closure only
	// runs after Run() starts accepting websocket traffic, by which point
	// construction below has completed.
	var sched *scheduler.Scheduler
	pool := wspool.New(authState, func(topic string, message json.RawMessage) {
		sched.Dispatch(topic, message)
	})

	sched = scheduler.New(scheduler.Config{
		Settings:     settings,
		Auth:         authState,
		Session:      session,
		GQLClient:    gqlClient,
		Inventory:    invSvc,
		Channels:     chanSvc,
		Pool:         pool,
		SettingsPath: settingsArg,
		Dump:         dump,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			sched.Close()
			cancel()
		case <-runCtx.Done():
		}
	}()

	go func() {
		if err := authState.Validate(runCtx); err != nil && !dmerrors.Is(err, dmerrors.ErrExitRequested) {
			logger.Warnw("main: initial login failed", "error", err.Error())
		}
	}()

	runErr := sched.Run(runCtx)

	if dump {
		snapshot, serr := metrics.Snapshot()
		if serr != nil {
			logger.Warnw("main: metrics snapshot failed", "error", serr.Error())
		} else {
			logger.Infow("main: dump snapshot", "metrics", snapshot)
		}
	}

	if runErr != nil && !dmerrors.Is(runErr, dmerrors.ErrExitRequested) {
		return dmerrors.Wrap(runErr, "scheduler exited")
	}
	return nil
}

// defaultCookiesPath mirrors config's own settings.toml fallback directory
// (~/.dropsminer) for the cookie jar file, so both persisted files live
// side by side (spec.md §6 Persisted State).
func defaultCookiesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", dmerrors.Wrap(err, "resolve user home directory")
	}
	return filepath.Join(home, ".dropsminer", "cookies.json"), nil
}
