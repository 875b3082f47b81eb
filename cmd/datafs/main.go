package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"slices"
	"strings"

	"datafs-go/internal/app"
	"datafs-go/internal/config"
	"datafs-go/internal/datafs"
	"datafs-go/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "update", "download").
// needKey asks for the passphrase when an encrypted authority is configured.
func newApp(ctx context.Context, operation string, needKey bool) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var opts app.Options
	if verbose {
		opts.Stderr = os.Stderr
	}
	if needKey && slices.ContainsFunc(cfg.Authorities, func(a config.AuthorityConfig) bool { return a.Encrypt }) {
		opts.Passphrase, err = readPassphrase("Passphrase: ")
		if err != nil {
			return nil, err
		}
	}

	a, err := app.NewApp(ctx, cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	for _, name := range a.Skipped() {
		fmt.Fprintf(os.Stderr, "warning: backend %s unavailable, skipped (see log)\n", name)
	}
	return a, nil
}

// readPassphrase returns DATAFS_PASSPHRASE when set, otherwise prompts on
// the terminal. Without a terminal it returns an empty passphrase.
func readPassphrase(prompt string) (string, error) {
	if p, ok := app.PassphraseFromEnv(); ok {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// newPassphrase prompts twice and requires both entries to match.
func newPassphrase() (string, error) {
	if p, ok := app.PassphraseFromEnv(); ok {
		return p, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("a terminal or %s is required to set a passphrase", app.PassphraseEnv)
	}
	p1, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	p2, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", errors.New("passphrases do not match")
	}
	if p1 == "" {
		return "", errors.New("passphrase must not be empty")
	}
	return p1, nil
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:          "datafs",
	Short:        "Versioned data archives",
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

		username, _ := cmd.Flags().GetString("username")
		contact, _ := cmd.Flags().GetString("contact")
		if username == "" {
			u, err := user.Current()
			if err != nil {
				return fmt.Errorf("determining username (use --username): %w", err)
			}
			username = u.Username
		}

		cfg := config.NewConfig(username, contact, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User:     %s\n", username)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])

		if withKeys, _ := cmd.Flags().GetBool("keys"); withKeys {
			enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
			if err != nil {
				return err
			}
			passphrase, err := newPassphrase()
			if err != nil {
				return err
			}
			if err := enc.Setup(passphrase); err != nil {
				return fmt.Errorf("generating keys: %w", err)
			}
			fmt.Printf("Keys:     %s\n", cfg.Encryption.PublicKeyPath)
		}
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
		fmt.Printf("User:        %s\n", cfg.User.Username)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Manager:     %s\n", cfg.Manager.Type)
		for _, a := range cfg.Authorities {
			fmt.Printf("Authority:   %-12s %s%s\n", a.Name, a.Type, transforms(a))
		}
		if cfg.Cache.Type != "" {
			fmt.Printf("Cache:       %s\n", cfg.Cache.Type)
		}
		fmt.Printf("Replication: %s\n", cfg.Replication)
		return nil
	},
}

func transforms(a config.AuthorityConfig) string {
	var t []string
	if a.Compress {
		t = append(t, "compressed")
	}
	if a.Encrypt {
		t = append(t, "encrypted")
	}
	if len(t) == 0 {
		return ""
	}
	return " (" + strings.Join(t, ", ") + ")"
}

// create command
var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unversioned, _ := cmd.Flags().GetBool("unversioned")
		allowExisting, _ := cmd.Flags().GetBool("allow-existing")
		rawMeta, _ := cmd.Flags().GetStringArray("metadata")
		md, err := app.ParseMetadata(rawMeta)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "create", false)
		if err != nil {
			return err
		}
		defer a.Close()

		arch, err := a.CreateArchive(cmd.Context(), args[0], md, unversioned, allowExisting)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", arch.Name())
		return nil
	},
}

// update command
var updateCmd = &cobra.Command{
	Use:   "update NAME [FILE]",
	Short: "Store new content as a version",
	Long:  "Store FILE, the --string value, or standard input as the next version of NAME.\nUnchanged content does not create a version.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := updateOptions(cmd)
		if err != nil {
			return err
		}
		content, hasString := "", cmd.Flags().Changed("string")
		if hasString {
			content, _ = cmd.Flags().GetString("string")
			if len(args) == 2 {
				return errors.New("give either FILE or --string, not both")
			}
		}

		a, err := newApp(cmd.Context(), "update", false)
		if err != nil {
			return err
		}
		defer a.Close()

		var res *datafs.UpdateResult
		switch {
		case hasString:
			res, err = a.Update(cmd.Context(), args[0], strings.NewReader(content), opts)
		case len(args) == 2:
			res, err = a.UpdateFile(cmd.Context(), args[0], args[1], opts)
		default:
			res, err = a.Update(cmd.Context(), args[0], os.Stdin, opts)
		}
		if err != nil {
			return err
		}

		for _, f := range res.Failures {
			fmt.Fprintf(os.Stderr, "warning: %s\n", f)
		}
		if !res.Changed {
			fmt.Printf("%s unchanged at %s\n", args[0], res.VersionID)
			return nil
		}
		if res.Previous == "" {
			fmt.Printf("%s created at %s\n", args[0], res.VersionID)
		} else {
			fmt.Printf("%s bumped %s -> %s\n", args[0], res.Previous, res.VersionID)
		}
		return nil
	},
}

func updateOptions(cmd *cobra.Command) (datafs.UpdateOptions, error) {
	var opts datafs.UpdateOptions
	rawBump, _ := cmd.Flags().GetString("bumpversion")
	bump, err := datafs.ParseBump(rawBump)
	if err != nil {
		return opts, err
	}
	opts.Bump = bump
	opts.Version, _ = cmd.Flags().GetString("version")

	rawDeps, _ := cmd.Flags().GetStringArray("dependency")
	if opts.Dependencies, err = app.ParseDependencies(rawDeps); err != nil {
		return opts, err
	}
	rawMeta, _ := cmd.Flags().GetStringArray("metadata")
	if opts.Metadata, err = app.ParseMetadata(rawMeta); err != nil {
		return opts, err
	}
	return opts, nil
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions NAME",
	Short: "List version ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "versions", false)
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.Versions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history NAME",
	Short: "View version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "history", false)
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(h) == 0 {
			fmt.Println("No versions.")
			return nil
		}
		for i, v := range h {
			current := ""
			if i == len(h)-1 {
				current = "  [latest]"
			}
			sum := v.Checksum
			if len(sum) > 12 {
				sum = sum[:12]
			}
			fmt.Printf("%-12s  %s:%s  %s  %-10s  %d%s\n",
				v.VersionID,
				v.ChecksumAlgorithm,
				sum,
				v.CreatedAt.Format("2006-01-02 15:04:05"),
				v.CreatedBy,
				v.Size,
				current,
			)
		}
		return nil
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download NAME DEST",
	Short: "Write a version to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")

		a, err := newApp(cmd.Context(), "download", true)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Download(cmd.Context(), args[0], version, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s@%s to %s\n", args[0], v.VersionID, args[1])
		return nil
	},
}

// cat command
var catCmd = &cobra.Command{
	Use:   "cat NAME",
	Short: "Write a version to standard output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")

		a, err := newApp(cmd.Context(), "cat", true)
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.Cat(cmd.Context(), args[0], version, os.Stdout)
		return err
	},
}

// dependencies command
var dependenciesCmd = &cobra.Command{
	Use:   "dependencies NAME",
	Short: "Show the dependency pins of a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")

		a, err := newApp(cmd.Context(), "dependencies", false)
		if err != nil {
			return err
		}
		defer a.Close()

		deps, err := a.Dependencies(cmd.Context(), args[0], version)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(deps))
		for n := range deps {
			names = append(names, n)
		}
		slices.Sort(names)
		for _, n := range names {
			pin := deps[n]
			if pin == "" {
				pin = "(latest)"
			}
			fmt.Printf("%s\t%s\n", n, pin)
		}
		return nil
	},
}

// metadata command
var metadataCmd = &cobra.Command{
	Use:   "metadata NAME",
	Short: "Show archive metadata as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "metadata", false)
		if err != nil {
			return err
		}
		defer a.Close()

		md, err := a.Metadata(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, md)
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var updateMetadataCmd = &cobra.Command{
	Use:   "update-metadata NAME KEY=VALUE...",
	Short: "Merge or replace archive metadata",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")
		patch, err := app.ParseMetadata(args[1:])
		if err != nil {
			return err
		}
		if len(patch) == 0 && !replace {
			return errors.New("nothing to update: give KEY=VALUE pairs or --replace")
		}

		a, err := newApp(cmd.Context(), "update-metadata", false)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.UpdateMetadata(cmd.Context(), args[0], patch, replace)
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "list", false)
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete an archive, its history and its stored content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "delete", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror log lines to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("username", "", "Username recorded as owner (default: current user)")
	configInitCmd.Flags().String("contact", "", "Contact recorded with the username")
	configInitCmd.Flags().Bool("keys", false, "Generate an encryption key pair")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().Bool("unversioned", false, "Number versions by timestamp instead of patch bumps")
	createCmd.Flags().Bool("allow-existing", false, "Merge metadata into an existing archive instead of failing")
	createCmd.Flags().StringArray("metadata", nil, "Archive metadata as KEY=VALUE (repeatable)")

	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().String("string", "", "Use this string as the content")
	updateCmd.Flags().String("bumpversion", "", "Component to bump: patch, minor or major")
	updateCmd.Flags().String("version", "", "Explicit version id; must sort after the latest")
	updateCmd.Flags().StringArray("dependency", nil, "Dependency pin as ARCHIVE[=VERSION] (repeatable)")
	updateCmd.Flags().StringArray("metadata", nil, "Version metadata as KEY=VALUE (repeatable)")

	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().String("version", "", "Version to read (default: latest)")
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().String("version", "", "Version to read (default: latest)")
	rootCmd.AddCommand(dependenciesCmd)
	dependenciesCmd.Flags().String("version", "", "Version to inspect (default: latest)")
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(updateMetadataCmd)
	updateMetadataCmd.Flags().Bool("replace", false, "Replace the metadata instead of merging")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
