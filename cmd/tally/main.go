package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tally-go/internal/app"
	"tally-go/internal/config"
	"tally-go/internal/tally"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates a TallyApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "sync", "customer add").
func newApp(ctx context.Context, command string) (*app.TallyApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewTallyApp(ctx, cfg, command, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp runs fn against a fresh TallyApp and records its outcome on the
// app's operation before closing it.
func withApp(cmd *cobra.Command, command string, fn func(ctx context.Context, a *app.TallyApp) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, command)
	if err != nil {
		return err
	}
	err = fn(ctx, a)
	if err != nil {
		a.Operation().Fail(err)
	}
	if cerr := a.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Offline-first business records with background sync",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])

		if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
			cfg.Remote.BaseURL = baseURL
			cfg.Network.ProbeURL = baseURL + "/health"
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Remote:     %s %s\n", cfg.Remote.Type, cfg.Remote.BaseURL)
		fmt.Printf("Network:    %s %s\n", cfg.Network.Type, cfg.Network.ProbeURL)
		fmt.Printf("Sync:       every %s, opportunistic=%t\n", cfg.Sync.Interval(), cfg.Sync.Opportunistic)
		fmt.Printf("Session:    %s\n", cfg.Session.Path)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// login / logout
var loginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Sign in and push pending records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptSecret(os.Stderr, "Password: ")
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		return withApp(cmd, "login", func(ctx context.Context, a *app.TallyApp) error {
			sum, err := a.Sync().Login(ctx, args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("Signed in as %s\n", args[0])
			printSummary(sum)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out; unsynced records are kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "logout", func(ctx context.Context, a *app.TallyApp) error {
			pending := a.Sync().UnsyncedCount()
			if err := a.Sync().Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			if pending > 0 {
				fmt.Printf("%d record(s) will sync after the next login.\n", pending)
			}
			return nil
		})
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push unsynced records now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "sync", func(ctx context.Context, a *app.TallyApp) error {
			sum := a.Sync().SyncNow(ctx)
			printSummary(sum)
			if sum.AuthRequired {
				return fmt.Errorf("%s: run `tally login`", sum.Error)
			}
			if !sum.Success && !sum.Skipped {
				return errors.New(sum.Error)
			}
			return nil
		})
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, connectivity and pending records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "status", func(ctx context.Context, a *app.TallyApp) error {
			a.Monitor().Check(ctx)
			fmt.Print(renderStatus(a.Sync()))
			return nil
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "history", func(ctx context.Context, a *app.TallyApp) error {
			runs, err := a.Sync().History(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No sync runs recorded.")
				return nil
			}
			for _, run := range runs {
				fmt.Println(formatRun(run))
			}
			return nil
		})
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay running and sync in the background",
	Long: `Stay running and sync in the background while signed in.

Signing in or out from another terminal takes effect immediately.
SIGUSR1 marks the app as backgrounded and SIGUSR2 as active again;
returning to active re-checks connectivity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(cmd, "watch", func(_ context.Context, a *app.TallyApp) error {
			states, release := appStateSignals()
			defer release()

			fmt.Println("Watching. Press Ctrl-C to stop.")
			return a.Watch(ctx, states)
		})
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Encrypted snapshots of the local store",
}

var backupInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the backup key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptNewSecret(os.Stderr, "Backup passphrase: ")
		if err != nil {
			return err
		}
		return withApp(cmd, "backup init", func(ctx context.Context, a *app.TallyApp) error {
			if err := a.SetupEncryption(passphrase); err != nil {
				return err
			}
			fmt.Println("Backup keys created.")
			return nil
		})
	},
}

var backupPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the backup passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := promptSecret(os.Stderr, "Current passphrase: ")
		if err != nil {
			return err
		}
		next, err := promptNewSecret(os.Stderr, "New passphrase: ")
		if err != nil {
			return err
		}
		return withApp(cmd, "backup passwd", func(ctx context.Context, a *app.TallyApp) error {
			if err := a.ChangePassphrase(current, next); err != nil {
				return err
			}
			fmt.Println("Passphrase changed.")
			return nil
		})
	},
}

var backupPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload an encrypted snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "backup push", func(ctx context.Context, a *app.TallyApp) error {
			version, err := a.PushBackup(ctx)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Printf("Uploaded snapshot version %d\n", version)
			return nil
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the stored snapshot version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "backup list", func(ctx context.Context, a *app.TallyApp) error {
			version, err := a.BackupVersion(ctx)
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Println("No snapshot stored for this device.")
				return nil
			}
			fmt.Printf("Snapshot version %d\n", version)
			return nil
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local store with the stored snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		passphrase, err := promptSecret(os.Stderr, "Backup passphrase: ")
		if err != nil {
			return err
		}
		return withApp(cmd, "backup restore", func(ctx context.Context, a *app.TallyApp) error {
			err := a.RestoreBackup(ctx, passphrase, force)
			if errors.Is(err, app.ErrPendingRows) {
				return fmt.Errorf("%w (use --force to discard them)", err)
			}
			if err != nil {
				return err
			}
			fmt.Println("Local store restored.")
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("base-url", "", "Remote API base URL")

	// backup subcommands
	backupCmd.AddCommand(backupInitCmd)
	backupCmd.AddCommand(backupPasswdCmd)
	backupCmd.AddCommand(backupPushCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupRestoreCmd.Flags().Bool("force", false, "Discard unsynced records")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	for _, group := range entityCommands {
		rootCmd.AddCommand(newEntityCmd(group))
	}
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(backupCmd)
}

// printSummary reports a sync pass.
func printSummary(sum *tally.Summary) {
	if sum == nil {
		return
	}
	if sum.Skipped {
		fmt.Printf("Sync skipped: %s\n", sum.Error)
		return
	}
	fmt.Printf("Synced %d, failed %d, deferred %d\n", sum.SyncedCount, sum.FailedCount, sum.DeferredCount)
	if sum.Error != "" {
		fmt.Printf("Sync stopped: %s\n", sum.Error)
	}
}
