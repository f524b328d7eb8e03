package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"modidx/internal/app"
	"modidx/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a ModApp. The caller must defer app.Close().
func newApp() (*app.ModApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewModApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on stderr and reads a line without echo.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("a passphrase prompt needs a terminal on stdin")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "modidx",
	Short:        "Incremental index of a mods folder",
	SilenceUsage: true,
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

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Printf("Log Dir: %s\n", defaults.LogDir)
		fmt.Printf("Settings: %s\n", defaults.SettingsPath)
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

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Workers:     %d\n", cfg.Tasks.Workers)
		fmt.Printf("Source:      %s\n", cfg.Scan.Source)
		if len(cfg.Scan.Ignore) > 0 {
			fmt.Printf("Ignore:      %s\n", strings.Join(cfg.Scan.Ignore, ", "))
		}
		if cfg.Metrics.Textfile != "" {
			fmt.Printf("Metrics:     %s\n", cfg.Metrics.Textfile)
		}
		return nil
	},
}

// root command
var modsRootCmd = &cobra.Command{
	Use:   "root",
	Short: "Manage the mods root",
}

var modsRootSetCmd = &cobra.Command{
	Use:   "set PATH",
	Short: "Set the mods root scanned by default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		root, err := a.SetRoot(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Mods root: %s\n", root)
		return nil
	},
}

var modsRootShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the mods root",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if root := a.Root(); root != "" {
			fmt.Println(root)
		} else {
			fmt.Println("No mods root configured.")
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan [PATH]",
	Short: "Scan a root and update the index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		root := ""
		if len(args) > 0 {
			root = args[0]
		}

		summary, err := a.ScanAndWait(cmd.Context(), root, source)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		fmt.Printf("Scanned %s in %s\n", summary.Root, summary.Duration.Round(time.Millisecond))
		fmt.Printf("  added:   %d\n", summary.Added)
		fmt.Printf("  changed: %d\n", summary.Changed)
		fmt.Printf("  removed: %d\n", summary.Removed)
		if summary.Skipped > 0 {
			fmt.Printf("  skipped: %d (see log)\n", summary.Skipped)
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List indexed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Status(cmd.Context(), status)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No files indexed.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%-8s %10d  %s  %s\n",
				e.Status,
				e.Size,
				e.LastSeenAt.Format("2006-01-02 15:04:05"),
				e.AbsPath,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			detail := ""
			switch {
			case op.Err != nil:
				detail = "(unreadable payload)"
			case op.OpType == app.OpIndexScan:
				detail = fmt.Sprintf("%v +%v ~%v -%v", op.Payload["root"], op.Payload["added"], op.Payload["changed"], op.Payload["removed"])
			default:
				if p, ok := op.Payload["path"]; ok {
					detail = fmt.Sprint(p)
				}
			}
			fmt.Printf("#%d  %-14s  %s  %-7s  %s\n",
				op.ID,
				op.OpType,
				op.CreatedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				detail,
			)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Export and restore the index database",
}

var dbExportCmd = &cobra.Command{
	Use:   "export DEST",
	Short: "Write a snapshot of the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ExportIndex(cmd.Context(), args[0], encrypt); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported index to %s\n", args[0])
		return nil
	},
}

var dbRestoreCmd = &cobra.Command{
	Use:   "restore SRC DEST",
	Short: "Decrypt an encrypted snapshot into a new database file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RestoreIndex(cmd.Context(), args[0], args[1], passphrase); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored index to %s\n", args[1])
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used for encrypted exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetupKeys(cmd.Context(), passphrase); err != nil {
			return fmt.Errorf("key setup failed: %w", err)
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// url command
var urlCmd = &cobra.Command{
	Use:   "url URL",
	Short: "Parse a mod download link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		meta, err := a.ParseURL(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("URL:    %s\n", meta.URL)
		fmt.Printf("Domain: %s\n", meta.Domain)
		fmt.Printf("Item:   %s\n", meta.ItemID)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root subcommands
	modsRootCmd.AddCommand(modsRootSetCmd)
	modsRootCmd.AddCommand(modsRootShowCmd)

	// db subcommands
	dbCmd.AddCommand(dbExportCmd)
	dbExportCmd.Flags().Bool("encrypt", false, "Encrypt the snapshot with the configured public key")
	dbCmd.AddCommand(dbRestoreCmd)

	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(modsRootCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringP("source", "s", "", "Provenance tag for newly indexed files (default from config)")
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("status", "", "Only list files with this status (normal, changed, missing)")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(urlCmd)
}
