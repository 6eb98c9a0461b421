package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"drivesync/internal/app"
	"drivesync/internal/codec"
	"drivesync/internal/config"
	"drivesync/internal/drive"
	"drivesync/internal/fs"
	"drivesync/internal/wallet"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run.
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

func unlock(a *app.App) error {
	pass, err := readPassphrase("Wallet passphrase: ")
	if err != nil {
		return err
	}
	return a.UnlockWallet(pass)
}

var rootCmd = &cobra.Command{
	Use:   "drivesync",
	Short: "File sync over a permanent content store",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config, wallet, and encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return err
		}

		configPath := defaults["config_path"]
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}

		keysDir := defaults["keys_dir"]
		cfg := &config.Config{
			BaseDir: defaults["base_dir"],
			LogDir:  defaults["log_dir"],
			Store:   config.StoreConfig{Type: "filesystem", FSRoot: filepath.Join(defaults["base_dir"], "store")},
			Database: config.DatabaseConfig{
				Type:    "sqlite",
				DataDir: defaults["data_dir"],
			},
			Wallet: config.WalletConfig{
				PublicKeyPath:  filepath.Join(keysDir, "wallet.pub"),
				PrivateKeyPath: filepath.Join(keysDir, "wallet.key"),
			},
			Codec: config.CodecConfig{
				Type:           "age",
				Compress:       true,
				PublicKeyPath:  filepath.Join(keysDir, "codec.pub"),
				PrivateKeyPath: filepath.Join(keysDir, "codec.key"),
			},
		}

		if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		pass, err := readPassphrase("Choose a passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		w, err := wallet.Setup(cfg.Wallet, pass)
		if err != nil {
			return fmt.Errorf("setting up wallet: %w", err)
		}
		if err := codec.NewAgeCodec(cfg.Codec).Setup(pass); err != nil {
			return fmt.Errorf("setting up codec keys: %w", err)
		}
		if err := cfg.WriteToFile(configPath); err != nil {
			return err
		}

		fmt.Printf("Config written to %s\n", configPath)
		fmt.Printf("Owner address: %s\n", w.Address())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

// upload command

var (
	uploadRecursive bool
	uploadFolder    string
	uploadDesc      string
	uploadTags      []string
	uploadPlain     bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path> [path...]",
	Short: "Upload files to the permanent store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}
		w, err := a.Wallet()
		if err != nil {
			return err
		}

		var cdc drive.Codec
		if !uploadPlain {
			cdc = a.Codec()
		}

		var paths []string
		for _, arg := range args {
			info, err := os.Stat(arg)
			if err != nil {
				return fmt.Errorf("stat %s: %w", arg, err)
			}
			if !info.IsDir() {
				paths = append(paths, arg)
				continue
			}
			patterns, err := fs.ParseIgnoreFile(filepath.Join(arg, ".dsignore"))
			if err != nil {
				return err
			}
			found, err := fs.FindFiles(arg, uploadRecursive, fs.NewIgnoreMatcher(patterns))
			if err != nil {
				return err
			}
			paths = append(paths, found...)
		}
		if len(paths) == 0 {
			return fmt.Errorf("nothing to upload")
		}

		if len(paths) == 1 {
			file, err := os.Open(paths[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", paths[0], err)
			}
			defer file.Close()

			result, err := a.Service().UploadFile(ctx, w, file, uploadOptions(paths[0], cdc))
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded %s (content id %s, version %d)\n",
				filepath.Base(paths[0]), result.ContentID, result.Version)
			return nil
		}

		var items []drive.UploadItem
		var files []*os.File
		defer func() {
			for _, f := range files {
				f.Close()
			}
		}()
		for _, p := range paths {
			file, err := os.Open(p)
			if err != nil {
				return fmt.Errorf("opening %s: %w", p, err)
			}
			files = append(files, file)
			items = append(items, drive.UploadItem{Content: file, Options: uploadOptions(p, cdc)})
		}

		outcomes := a.Service().UploadBatch(ctx, w, items)
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Printf("FAILED  %s: %v\n", o.FileName, o.Err)
				continue
			}
			fmt.Printf("ok      %s (version %d)\n", o.FileName, o.Result.Version)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(outcomes))
		}
		return nil
	},
}

func uploadOptions(path string, cdc drive.Codec) drive.UploadOptions {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return drive.UploadOptions{
		FileName:    filepath.Base(path),
		MimeType:    mimeType,
		FolderID:    uploadFolder,
		Description: uploadDesc,
		Tags:        uploadTags,
		Codec:       cdc,
	}
}

// download command

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download <content-id>",
	Short: "Download and decode a stored blob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Download")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Index().GetFileByContentID(args[0])
		if err != nil {
			return err
		}

		var dec drive.DecodeContext
		if rec != nil && rec.Encrypted() {
			ageCodec, ok := a.Codec().(*codec.AgeCodec)
			if !ok {
				return fmt.Errorf("record is encrypted but no decryption codec is configured")
			}
			pass, err := readPassphrase("Codec passphrase: ")
			if err != nil {
				return err
			}
			dec, err = ageCodec.Unlock(pass)
			if err != nil {
				return err
			}
		}

		out := os.Stdout
		if downloadOutput != "" {
			f, err := os.Create(downloadOutput)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}
		return a.Service().Download(ctx, args[0], out, dec)
	},
}

// search command

var (
	searchFolder    string
	searchRoot      bool
	searchTags      []string
	searchMime      string
	searchEncrypted bool
	searchLimit     int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the local file index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Search")
		if err != nil {
			return err
		}
		defer a.Close()

		opts := drive.SearchOptions{
			FolderID:   searchFolder,
			RootOnly:   searchRoot,
			Tags:       searchTags,
			MimePrefix: searchMime,
			Limit:      searchLimit,
		}
		if len(args) == 1 {
			opts.Query = args[0]
		}
		if cmd.Flags().Changed("encrypted") {
			opts.Encrypted = &searchEncrypted
		}

		records, err := a.Service().Search(a.Address(), opts)
		if err != nil {
			return err
		}
		for _, rec := range records {
			fmt.Printf("%s  v%-3d %10d  %s  %s\n",
				rec.CreatedAt.Format("2006-01-02 15:04"), rec.Version,
				rec.FileSize, rec.ContentID[:12], rec.FileName)
		}
		fmt.Printf("%d file(s)\n", len(records))
		return nil
	},
}

// history command

var historyCmd = &cobra.Command{
	Use:   "history <file-id>",
	Short: "Show a file's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Service().GetFileHistory(args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			marker := " "
			if e.IsCurrent {
				marker = "*"
			}
			fmt.Printf("%s v%-3d %s  %10d  %s\n", marker, e.Version, e.CreatedAt, e.FileSize, e.ContentID)
		}
		return nil
	},
}

// sync command

var (
	syncForce     bool
	syncManifests bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the local index from the permanent store",
	Long: `Rebuild the local index from the permanent store. The default mode
queries tagged records directly, which is ground truth but downloads
every unknown blob to hash it. --manifests replays the published
manifest chain instead, which is cheaper but trusts the chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		var stats drive.SyncStats
		if syncManifests {
			stats, err = a.Manifests().SyncFromChain(ctx, a.Address())
		} else {
			stats, err = a.Service().RequestSync(ctx, a.Address(), syncForce)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Sync complete: %d added, %d updated, %d skipped, %d errors\n",
			stats.Added, stats.Updated, stats.Skipped, stats.Errors)
		return nil
	},
}

// publish command

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a manifest immediately, bypassing batching",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Publish")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}
		w, err := a.Wallet()
		if err != nil {
			return err
		}

		id, err := a.Scheduler().ForceUpdate(ctx, w)
		if err != nil {
			return err
		}
		fmt.Printf("Manifest: %s\n", id)
		return nil
	},
}

// status command

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and scheduler state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.Index().CountFilesByOwner(a.Address())
		if err != nil {
			return err
		}
		fmt.Printf("Owner:          %s\n", a.Address())
		fmt.Printf("Indexed files:  %d\n", count)
		fmt.Printf("Pending updates: %d\n", a.Scheduler().PendingCount(a.Address()))
		return nil
	},
}

// delete command

var deleteCmd = &cobra.Command{
	Use:   "delete <file-id>",
	Short: "Remove a file from the local index",
	Long: `Remove a file record from the local index, including its tags and
search entry. The blob on the permanent store is immutable and remains.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Delete")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Service().DeleteFile(args[0])
	},
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadRecursive, "recursive", "r", false, "recurse into subdirectories")
	uploadCmd.Flags().StringVar(&uploadFolder, "folder", "", "folder id to file the uploads under")
	uploadCmd.Flags().StringVar(&uploadDesc, "desc", "", "description stored with the uploads")
	uploadCmd.Flags().StringArrayVar(&uploadTags, "tag", nil, "tag to attach (repeatable)")
	uploadCmd.Flags().BoolVar(&uploadPlain, "plain", false, "skip the upload codec")

	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "write to file instead of stdout")

	searchCmd.Flags().StringVar(&searchFolder, "folder", "", "restrict to one folder id")
	searchCmd.Flags().BoolVar(&searchRoot, "root", false, "restrict to files outside any folder")
	searchCmd.Flags().StringArrayVar(&searchTags, "tag", nil, "require tag (repeatable, ANDed)")
	searchCmd.Flags().StringVar(&searchMime, "mime", "", "MIME type prefix, e.g. image/")
	searchCmd.Flags().BoolVar(&searchEncrypted, "encrypted", false, "filter by encryption state")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results")

	syncCmd.Flags().BoolVar(&syncForce, "force", false, "bypass the sync cooldown")
	syncCmd.Flags().BoolVar(&syncManifests, "manifests", false, "replay the manifest chain instead of querying records")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deleteCmd)
}
