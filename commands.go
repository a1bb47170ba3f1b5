package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chatexport/mcp"
)

var (
	configPath string
	deviceFlag string
	verbose    bool
	logToFile  bool

	// cfg is loaded once per invocation by the root command
	cfg *Config
)

var rootCmd = &cobra.Command{
	Use:   "chatexport",
	Short: "Export WhatsApp chats from an Android phone through UI automation",
	Long: `chatexport drives a connected Android device over adb and walks the
WhatsApp "Export chat" flow for one or many conversations, uploading each
archive to the configured share destination (Google Drive by default).

Every interaction that enters a chat is preceded by a safety check on the
foreground app, the visible screen and the lock state.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		if deviceFlag != "" {
			loaded.Device.Serial = deviceFlag
		}
		if verbose {
			loaded.Log.Level = "debug"
		}
		if logToFile {
			loaded.Log.File = true
		}
		if err := InitLogger(loaded.LogConfig()); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		CloseLogger()
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		CloseLogger()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openApp connects to the configured device with the history store attached.
// The returned func releases both.
func openApp(ctx context.Context) (*App, func(), error) {
	history, err := NewHistoryStore(cfg.HistoryDBPath())
	if err != nil {
		LogWarn("cli").Err(err).Msg("history store unavailable, continuing without it")
		history = nil
	}
	app, err := Connect(ctx, cfg, history)
	if err != nil {
		if history != nil {
			history.Close()
		}
		return nil, nil, err
	}
	return app, func() {
		app.Close()
		if history != nil {
			history.Close()
		}
	}, nil
}

// ========================================
// verify
// ========================================

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the device is unlocked and showing the chat app",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		r := app.VerifyReady(cmd.Context())
		renderVerification(cmd.OutOrStdout(), app.DeviceID(), r)
		if !r.OverallOK {
			return &VerificationFailure{Result: r}
		}
		return nil
	},
}

// ========================================
// list
// ========================================

var (
	listOrder string
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations from the chat list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := listOptions(listOrder, listLimit)
		if err != nil {
			return err
		}
		app, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		out := cmd.OutOrStdout()
		n := 0
		for h, err := range app.ListChats(cmd.Context(), opts) {
			if err != nil {
				return err
			}
			renderChat(out, h)
			n++
		}
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d chat(s)", n)))
		return nil
	},
}

// ========================================
// export
// ========================================

var (
	exportMedia  bool
	exportAll    bool
	exportResume bool
	exportOrder  string
	exportLimit  int
	exportRange  string
)

var exportCmd = &cobra.Command{
	Use:   "export [chat names...]",
	Short: "Export one or more conversations to the share destination",
	Long: `Export the named conversations, or every conversation with --all.

With --all, --range picks 1-based positions in the discovered order,
for example "300-500" or "1,5,10-20". It overrides --limit.

With --resume, chats already present in destination.dir or recorded as
exported in the history store are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !exportAll {
			return errors.New("give chat names or use --all")
		}
		if len(args) > 0 && exportAll {
			return errors.New("--all cannot be combined with chat names")
		}
		if exportRange != "" && !exportAll {
			return errors.New("--range needs --all")
		}
		list, err := listOptions(exportOrder, exportLimit)
		if err != nil {
			return err
		}
		positions, err := ParseChatRange(exportRange)
		if err != nil {
			return err
		}

		withMedia := cfg.Batch.WithMedia
		if cmd.Flags().Changed("media") {
			withMedia = exportMedia
		}
		resume := cfg.Batch.SkipExported
		if cmd.Flags().Changed("resume") {
			resume = exportResume
		}

		app, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		out := cmd.OutOrStdout()
		opts := BatchOptions{
			Chats:     args,
			Order:     list.Order,
			Limit:     list.Limit,
			Positions: positions,
			WithMedia: withMedia,
			Resume:    resume,
			OnAttempt: func(index, total int, a ExportAttempt) {
				renderAttempt(out, index, total, a)
			},
		}
		if dir := cfg.Destination.Dir; dir != "" && resume {
			opts.Lister = DirLister{Dir: dir}
			if cfg.Destination.Watch {
				opts.Filter = NewResumeFilter(cfg.App.ArtifactPrefix)
				watcher := NewDestinationWatcher(dir, opts.Filter)
				if err := watcher.Start(); err != nil {
					LogWarn("cli").Err(err).Str("dir", dir).Msg("destination watch unavailable")
				} else {
					defer watcher.Stop()
				}
			}
		}

		sum, err := app.RunBatch(cmd.Context(), opts)
		renderSummary(out, sum)
		if err != nil {
			return err
		}
		if sum.Aborted {
			return fmt.Errorf("run aborted: %s", sum.AbortReason)
		}
		if sum.Failed > 0 {
			return fmt.Errorf("%d export(s) failed", sum.Failed)
		}
		return nil
	},
}

// ========================================
// baseline
// ========================================

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Navigate the device back to the chat list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if err := app.ReturnToBaseline(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Back at the chat list"))
		return nil
	},
}

// ========================================
// pair
// ========================================

var pairCmd = &cobra.Command{
	Use:   "pair <ip:port> <code>",
	Short: "Pair with a phone in wireless debugging mode",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := NewAdbClient(cfg.Device.AdbPath)
		if err != nil {
			return err
		}
		output, err := client.Pair(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(output))
		return nil
	},
}

// ========================================
// pin
// ========================================

var pinClear bool

var pinCmd = &cobra.Command{
	Use:   "pin [serial]",
	Short: "Remember which device to use when several are attached",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		memory := openDeviceMemory(cfg)
		if memory == nil {
			return errors.New("device settings unavailable")
		}
		out := cmd.OutOrStdout()
		switch {
		case pinClear:
			memory.SetPinnedSerial("")
		case len(args) == 1:
			if err := ValidateDeviceID(args[0]); err != nil {
				return err
			}
			memory.SetPinnedSerial(args[0])
		default:
			if pinned := memory.GetPinnedSerial(); pinned != "" {
				fmt.Fprintln(out, pinned)
			} else {
				fmt.Fprintln(out, idStyle.Render("no device pinned"))
			}
			return nil
		}
		if err := memory.Close(); err != nil {
			return err
		}
		if p := memory.GetPinnedSerial(); p != "" {
			fmt.Fprintln(out, okStyle.Render("Pinned "+p))
		} else {
			fmt.Fprintln(out, okStyle.Render("Pin cleared"))
		}
		return nil
	},
}

// ========================================
// history
// ========================================

var (
	historyLimit int
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded export attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := NewHistoryStore(cfg.HistoryDBPath())
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if historyRun != "" {
			run, err := store.GetRun(strings.TrimSpace(historyRun))
			if err != nil {
				return err
			}
			renderSummary(out, *run)
			return nil
		}
		records, err := store.ListAttempts(historyLimit)
		if err != nil {
			return err
		}
		renderHistory(out, records)
		return nil
	},
}

// ========================================
// mcp
// ========================================

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the export tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		LogInfo("cli").Str("device", app.DeviceID()).Msg("serving MCP on stdio")
		return mcp.NewMCPServer(NewMCPBridge(app)).Start()
	},
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, "device", "d", "", "device serial or ip:port (overrides device.serial)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "also write logs under data_dir/logs")

	listCmd.Flags().StringVar(&listOrder, "order", "list", "list or alphabetical")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "stop after this many chats (0 = all)")

	exportCmd.Flags().BoolVar(&exportMedia, "media", false, "include media (default from batch.with_media)")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every chat in the list")
	exportCmd.Flags().BoolVar(&exportResume, "resume", false, "skip chats already exported (default from batch.skip_exported)")
	exportCmd.Flags().StringVar(&exportOrder, "order", "list", "discovery order with --all: list or alphabetical")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "with --all, export at most this many chats")
	exportCmd.Flags().StringVar(&exportRange, "range", "", `with --all, list positions to export, e.g. "300-500" or "1,5,10-20"`)

	pinCmd.Flags().BoolVar(&pinClear, "clear", false, "forget the pinned device")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of attempts to show")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the summary of one run")

	rootCmd.AddCommand(verifyCmd, listCmd, exportCmd, baselineCmd, pairCmd, pinCmd, historyCmd, mcpCmd)
}
