package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shikharish/pgmoneta/pkg/catalog"
	"github.com/shikharish/pgmoneta/pkg/config"
	"github.com/shikharish/pgmoneta/pkg/log"
	"github.com/shikharish/pgmoneta/pkg/pgerr"
	"github.com/shikharish/pgmoneta/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pgmoneta: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pgmoneta",
	Short:   "Backup and restore supervisor for a Postgres-compatible cluster",
	Version: Version,
	RunE:    runSupervisor,
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("pgmoneta %s (%s)\n", Version, Commit))

	flags := rootCmd.Flags()
	flags.StringP("config", "c", "", "path to the main configuration file")
	flags.StringP("users", "u", "", "path to the users configuration file")
	flags.StringP("admins", "A", "", "path to the admins configuration file")
	flags.BoolP("daemon", "d", false, "run as a daemon")
	flags.StringP("cert", "", "", "TLS certificate file for the remote management channel")
	flags.StringP("key", "", "", "TLS key file for the remote management channel")
	flags.StringP("ca", "", "", "TLS CA file for the remote management channel")
	flags.BoolP("version", "V", false, "print version information and exit")

	// Declaring "version" here makes cobra's built-in version handling use
	// -V/--version instead of adding its default -v. Help is cobra's
	// default -h/--help; no -? shorthand is declared.
	rootCmd.Flags().SortFlags = false
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	if os.Getuid() == 0 {
		return fmt.Errorf("refusing to run as root")
	}

	configPath, _ := cmd.Flags().GetString("config")
	usersPath, _ := cmd.Flags().GetString("users")
	adminsPath, _ := cmd.Flags().GetString("admins")
	daemonize, _ := cmd.Flags().GetBool("daemon")
	certFile, _ := cmd.Flags().GetString("cert")
	keyFile, _ := cmd.Flags().GetString("key")
	caFile, _ := cmd.Flags().GetString("ca")

	paths := config.Paths{Main: configPath, Users: usersPath, Admins: adminsPath}

	region, result, err := config.Load(paths, "")
	if err != nil {
		if pgerr.Is(err, pgerr.ConfigMissing) {
			var pe *pgerr.Error
			errors.As(err, &pe)
			fmt.Fprintf(os.Stderr, "pgmoneta: Configuration not found: %s\n", pe.Detail)
			os.Exit(1)
		}
		return fmt.Errorf("loading configuration: %w", err)
	}
	if result != config.LoadOK {
		return fmt.Errorf("configuration did not load cleanly (result=%d)", result)
	}

	if daemonize && region.Snapshot().LoggingType == config.LoggingConsole {
		return fmt.Errorf("cannot daemonize with CONSOLE logging configured")
	}

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: region.Snapshot().LoggingType != config.LoggingConsole,
	})

	if err := region.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	if daemonize && os.Getenv("PGMONETA_DAEMONIZED") != "1" {
		if err := daemonizeSelf(); err != nil {
			return fmt.Errorf("daemonizing: %w", err)
		}
		return nil
	}

	return runForeground(region, certFile, keyFile, caFile)
}

func runForeground(region *config.Region, certFile, keyFile, caFile string) error {
	snap := region.Snapshot()

	cat, err := catalog.Open(snap.BaseDir)
	if err != nil {
		return fmt.Errorf("opening backup catalog: %w", err)
	}
	defer cat.Close()

	sup := supervisor.New(region, cat, nil, nil)

	tlsMaterial := supervisor.TLSMaterial{CertFile: certFile, KeyFile: keyFile, CAFile: caFile}
	if err := sup.Start(context.Background(), tlsMaterial); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	sup.Run()
	sup.Shutdown()
	return nil
}

// daemonizeSelf re-execs the current binary with its original arguments in
// a detached session, then lets the parent exit, matching spec.md step 4.
// The re-exec'd child carries PGMONETA_DAEMONIZED=1 so its own pass through
// runSupervisor runs the foreground path instead of daemonizing again.
func daemonizeSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	attr := &os.ProcAttr{
		Env:   append(os.Environ(), "PGMONETA_DAEMONIZED=1"),
		Files: []*os.File{devnull, devnull, devnull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(exe, os.Args, attr)
	if err != nil {
		return err
	}

	log.WithComponent("main").Info().Int("pid", proc.Pid).Msg("daemonized")
	return nil
}
