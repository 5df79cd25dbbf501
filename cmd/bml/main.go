package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bml-go/internal/app"
	"bml-go/internal/bml"
	"bml-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a BMLApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "rm", "import").
func newApp(operation string, args []string) (*app.BMLApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewBMLApp(cfg, operation, strings.Join(args, " "), app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp closes a and reports a failed archive upload without hiding the
// command's own error.
func closeApp(a *app.BMLApp, err *error) {
	if cerr := a.Close(); cerr != nil {
		if *err == nil {
			*err = cerr
		} else {
			fmt.Fprintf(os.Stderr, "warning: %v\n", cerr)
		}
	}
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string, repeat bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("a passphrase is required but stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !repeat {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

// confirm asks a yes/no question. Without a terminal the answer is no.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func absPaths(args []string) ([]string, error) {
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		p, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", arg, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func printEntry(e *bml.HistoryEntry) {
	fmt.Printf("#%d  %-7s  %s  %s  (%d ops)\n",
		e.ID,
		e.State,
		e.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		e.Description,
		e.OpCount(),
	)
}

var rootCmd = &cobra.Command{
	Use:          "bml",
	Short:        "Build provenance store and safe cleanup tool",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		storeID := uuid.New().String()
		cfg := config.NewConfig(storeID, defaults["base_dir"])

		passphrase := ""
		needs, err := app.NeedsPassphrase(cfg)
		if err != nil {
			return err
		}
		if needs {
			passphrase, err = readPassphrase("Passphrase for the archive key: ", true)
			if err != nil {
				return err
			}
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.InitStore(cfg, passphrase); err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Store ID: %s\n", storeID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		fmt.Printf("Store ID:   %s\n", cfg.StoreID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		for _, p := range cfg.Import.Ignore {
			fmt.Printf("Ignore:     %s\n", p)
		}
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import MANIFEST",
	Short: "Record a traced build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("import", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		sum, err := a.Import(args[0])
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("Imported %d action(s), %d access(es), %d file group(s); ignored %d path(s)\n",
			sum.Actions, sum.Accesses, sum.Groups, sum.Ignored)
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [DIR]",
	Short: "List recorded paths in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("ls", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		dir, err := filepath.Abs(target)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		entries, err := a.List(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-9s %6d  %s\n", e.Type, e.ID, e.Name)
		}
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH...",
	Short: "Delete paths from the build, refusing unsafe deletions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		flags := cmd.Flags()
		tree, _ := flags.GetBool("tree")
		deleteActions, _ := flags.GetBool("delete-actions")
		detach, _ := flags.GetBool("detach")
		interactive, _ := flags.GetBool("interactive")

		paths, err := absPaths(args)
		if err != nil {
			return err
		}

		a, err := newApp("rm", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		req := bml.DeleteRequest{Paths: paths, Tree: tree, DeleteActions: deleteActions, Detach: detach}
		var ask func(path string, remedy bml.Remedy, reason string) bool
		if interactive {
			ask = func(path string, remedy bml.Remedy, reason string) bool {
				fmt.Fprintf(os.Stderr, "refused: %s\n", reason)
				return confirm(fmt.Sprintf("Retry %s and %s?", path, remedy))
			}
		}

		entry, err := a.DeleteWithRetry(req, ask)
		if err != nil {
			if _, ok := bml.AsRefactorError(err); ok {
				return fmt.Errorf("refused: %s", a.Explain(err))
			}
			return err
		}
		fmt.Printf("Deleted: %s\n", entry.Description)
		return nil
	},
}

// undo command
var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Reverse the most recent deletion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("undo", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		entry, err := a.Undo()
		if err != nil {
			return fmt.Errorf("undo failed: %w", err)
		}
		fmt.Printf("Undone: %s\n", entry.Description)
		return nil
	},
}

// redo command
var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Re-apply the last undone deletion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("redo", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		entry, err := a.Redo()
		if err != nil {
			return fmt.Errorf("redo failed: %w", err)
		}
		fmt.Printf("Redone: %s\n", entry.Description)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recorded deletions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		entries, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No deletions recorded.")
			return nil
		}
		for _, e := range entries {
			printEntry(e)
		}
		return nil
	},
}

// show-action command
var showActionCmd = &cobra.Command{
	Use:   "show-action ID",
	Short: "Show an action with its file accesses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid action id %q", args[0])
		}

		a, err := newApp("show-action", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		d, err := a.ShowAction(id)
		if err != nil {
			return err
		}

		state := ""
		if d.Action.Trashed {
			state = "  [deleted]"
		}
		kind := "atomic"
		if len(d.Children) > 0 {
			kind = "composite"
		}
		fmt.Printf("#%d  %s  (%s)%s\n", d.Action.ID, d.Action.Command, kind, state)
		fmt.Printf("  in %s\n", d.Directory)
		for _, acc := range d.Accesses {
			fmt.Printf("  %-8s %s\n", acc.Operation, acc.PathName)
		}
		for _, c := range d.Children {
			fmt.Printf("  child #%d  %s\n", c.ID, c.Command)
		}
		return nil
	},
}

// unused command
var unusedCmd = &cobra.Command{
	Use:   "unused [DIR]",
	Short: "List files no recorded action uses",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("unused", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		root, err := filepath.Abs(target)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		names, err := a.Unused(root)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

// group command
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage file groups",
}

var groupReleaseCmd = &cobra.Command{
	Use:   "release GROUP PATH",
	Short: "Remove a path from a file group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		path, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		a, err := newApp("group-release", args)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.ReleaseFromGroup(args[0], path); err != nil {
			return err
		}
		fmt.Printf("Released %s from %s\n", path, args[0])
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage the store archive",
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local store with its latest archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		passphrase := ""
		needs, err := app.NeedsPassphrase(cfg)
		if err != nil {
			return err
		}
		if needs {
			passphrase, err = readPassphrase("Passphrase: ", false)
			if err != nil {
				return err
			}
		}

		version, err := app.RestoreArchive(cfg, passphrase)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored store %s at version %d\n", cfg.StoreID, version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log everything to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// group subcommands
	groupCmd.AddCommand(groupReleaseCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolP("tree", "r", false, "Delete directories with everything below them")
	rmCmd.Flags().Bool("delete-actions", false, "Also delete the actions that generate the paths")
	rmCmd.Flags().Bool("detach", false, "Drop the accesses of actions that read the paths")
	rmCmd.Flags().BoolP("interactive", "i", false, "Offer a fix and retry when a deletion is refused")
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	rootCmd.AddCommand(showActionCmd)
	rootCmd.AddCommand(unusedCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(archiveCmd)
}
