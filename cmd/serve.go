package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/bullseye/internal/api"
	"github.com/joescharf/bullseye/internal/daemon"
)

const (
	shutdownTimeout = 5 * time.Second
	startWait       = 3 * time.Second
	stopWait        = 5 * time.Second
	pollInterval    = 100 * time.Millisecond
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server in the foreground.
By default it listens on port 8420. Use --port to change it.

Use 'bullseye serve start' to run it in the background instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(viper.GetInt("port"))
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8420, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the state file of the background server.
func pidFile() *daemon.File {
	return daemon.NewFile(filepath.Join(viper.GetString("state_dir"), "bullseye-serve.pid"))
}

// serveLogPath is where the background server writes its output.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "bullseye-serve.log")
}

// serveHandler builds the API handler on the shared session manager.
func serveHandler() (http.Handler, error) {
	m, err := getManager()
	if err != nil {
		return nil, err
	}
	return api.NewServer(m, newCoach(), newLogger()).Router(), nil
}

func serveRun(port int) error {
	handler, err := serveHandler()
	if err != nil {
		return fmt.Errorf("failed to initialize API handler: %w", err)
	}

	pf := pidFile()
	if err := pf.Acquire(port, time.Now()); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	log := newLogger()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		// Commit ends still waiting on their delay.
		if err := sessionMgr.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("flushing sessions")
		}
		log.Info().Msg("server stopped gracefully")
		return nil
	})

	fmt.Fprintf(ui.Out, "Serving API at http://localhost:%d/api/v1\n", port)
	return g.Wait()
}

func serveStartRun() error {
	pf := pidFile()
	if st, alive := pf.Running(); alive {
		return fmt.Errorf("%w (pid %d, port %d)", daemon.ErrRunning, st.PID, st.Port)
	}

	port := viper.GetInt("port")
	if dryRun {
		ui.DryRunMsg("Would start server on port %d (log: %s)", port, serveLogPath())
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(serveLogPath()), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve", "--port", strconv.Itoa(port)}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}
	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	deadline := time.Now().Add(startWait)
	for time.Now().Before(deadline) {
		if st, alive := pf.Running(); alive && st.PID == pid {
			ui.Success("Server started (pid %d) at http://localhost:%d/api/v1", pid, port)
			ui.VerboseLog("Log: %s", serveLogPath())
			return nil
		}
		time.Sleep(pollInterval)
	}
	ui.Warning("Server (pid %d) has not reported in yet; check %s", pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	st, alive := pf.Running()
	if !alive {
		// Clear a file left behind by a crashed server.
		_ = pf.Remove()
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", st.PID)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if _, alive := pf.Running(); !alive {
			ui.Success("Server stopped (pid %d)", st.PID)
			return nil
		}
		time.Sleep(pollInterval)
	}

	ui.Warning("Server did not stop in %s, killing it", stopWait)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pf.Remove()
	ui.Success("Server killed (pid %d)", st.PID)
	return nil
}

func serveStatusRun() error {
	st, alive := pidFile().Running()
	if !alive {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server is running")
	fmt.Fprintf(ui.Out, "  PID:        %d\n", st.PID)
	fmt.Fprintf(ui.Out, "  URL:        http://localhost:%d/api/v1\n", st.Port)
	fmt.Fprintf(ui.Out, "  Uptime:     %s\n", st.Uptime(time.Now()))
	fmt.Fprintf(ui.Out, "  Log:        %s\n", serveLogPath())
	return nil
}
