package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/api"
	"github.com/jmcleod/sessionsync/channel/filechan"
	"github.com/jmcleod/sessionsync/nav"
	"github.com/jmcleod/sessionsync/session"
	"github.com/jmcleod/sessionsync/telemetry"
)

var (
	dataDir        string
	listenAddr     string
	sessionTimeout time.Duration
	warningWindow  time.Duration
	loginPath      string
	landingPath    string
	protectedPaths []string
	publicPaths    []string
	webhookURL     string
	webhookAuth    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one execution context",
	Long: `Starts one execution context: the session store, activity tracker,
cross-context broadcaster, and navigation guard, coordinated with sibling
processes through a file-backed shared channel. An HTTP surface drives the
session and exposes error triage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		var sinkOpt []telemetry.Option
		if webhookURL != "" {
			sinkOpt = append(sinkOpt, telemetry.WithSink(telemetry.NewSink(webhookURL, webhookAuth)))
		}
		analyzer := telemetry.New(append(sinkOpt, telemetry.WithLogger(logger))...)
		defer analyzer.Close()

		ch, err := filechan.New(filepath.Join(dataDir, "channel.json"))
		if err != nil {
			analyzer.ReportError(telemetry.KindInitialization, err, telemetry.Context{
				ComponentTrace: []string{"run"},
			})
			return fmt.Errorf("failed to open shared channel: %w", err)
		}
		defer ch.Close()

		notice := func(n session.Notice) {
			logger.Info("notice",
				"kind", n.Kind,
				"remaining", n.Remaining,
				"principal_id", n.PrincipalID)
		}

		store := session.NewStore(
			session.WithTimeout(sessionTimeout),
			session.WithLogger(logger),
			session.WithReporter(analyzer),
		)

		tracker := session.NewTracker(store,
			session.WithWarningWindow(warningWindow),
			session.WithNotice(notice),
			session.WithTrackerLogger(logger),
		)
		tracker.Start()
		defer tracker.Stop()

		broadcaster := session.NewBroadcaster(store, ch,
			session.WithBroadcasterLogger(logger),
			session.WithBroadcasterReporter(analyzer),
			session.WithBroadcasterNotice(notice),
		)
		defer broadcaster.Close()

		// The CLI has no real browser location; track it in memory and
		// treat navigation as a log line for the host to act on.
		var mu sync.Mutex
		location := landingPath
		guard := nav.New(store,
			func(path string) error {
				mu.Lock()
				location = path
				mu.Unlock()
				logger.Info("navigate", "to", path)
				return nil
			},
			func() string {
				mu.Lock()
				defer mu.Unlock()
				return location
			},
			nav.WithLoginPath(loginPath),
			nav.WithLandingPath(landingPath),
			nav.WithReporter(analyzer),
			nav.WithNotice(notice),
			nav.WithLogger(logger),
		)
		guard.Configure(protectedPaths, publicPaths)
		unsubscribe := store.Subscribe(guard.Handle)
		defer unsubscribe()

		if listenAddr == "" {
			logger.Info("context running", "session_id", analyzer.SessionID(), "data", dataDir)
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			return nil
		}

		a := api.New(store, analyzer,
			api.WithLogger(logger),
			api.WithTracker(tracker),
			api.WithGuard(guard),
		)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              listenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("context running",
			"session_id", analyzer.SessionID(),
			"listen", listenAddr,
			"data", dataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the shared channel")
	runCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8980", "HTTP listen address (empty disables the HTTP surface)")
	runCmd.Flags().DurationVar(&sessionTimeout, "timeout", session.DefaultTimeout, "Inactivity timeout")
	runCmd.Flags().DurationVar(&warningWindow, "warning-window", session.DefaultWarningWindow, "How long before expiry to warn")
	runCmd.Flags().StringVar(&loginPath, "login-path", nav.DefaultLoginPath, "Path users are sent to when signed out")
	runCmd.Flags().StringVar(&landingPath, "landing-path", nav.DefaultLandingPath, "Default post-login landing path")
	runCmd.Flags().StringSliceVar(&protectedPaths, "protected", nil, "Paths requiring an authenticated session")
	runCmd.Flags().StringSliceVar(&publicPaths, "public", nil, "Explicitly public paths")
	runCmd.Flags().StringVar(&webhookURL, "webhook-url", "", "External telemetry endpoint (optional)")
	runCmd.Flags().StringVar(&webhookAuth, "webhook-auth", "", "Auth header for the telemetry endpoint, \"Header: Value\"")
}
