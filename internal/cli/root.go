// Package cli wires the command line to a single batch run: parse the host
// selection, build the task specs, execute them through the dispatcher, and
// fold the outcomes into the process exit status.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aryankumar/fanout/internal/config"
	"github.com/aryankumar/fanout/internal/executor"
	"github.com/aryankumar/fanout/internal/hostlist"
	"github.com/aryankumar/fanout/internal/output"
	"github.com/aryankumar/fanout/internal/runner"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
)

// Execute runs the root command with the provided context
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fanout [flags] command [args...]",
		Short: "Fanout - run one command in parallel across many hosts",
		Long: `Fanout runs a single command over SSH against every host in a host list,
with bounded parallelism and a per-task timeout. Output can be written to
per-host files, buffered for end-of-run display, or streamed live, and the
exit code reflects the worst outcome across the whole fleet.

Exit codes: 0 all hosts succeeded, 1 setup or dispatch error, 3 a task was
killed or timed out, 4 a task exited 255 (ssh failure), 5 a task exited
with another nonzero code.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			return nil
		},
		RunE: runFanout,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fanout.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output with debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	flags := rootCmd.Flags()
	flags.StringSliceP("hosts", "f", nil, "host file(s); .yaml/.yml files are read as inventories")
	flags.StringSliceP("host", "H", nil, "additional '[user@]host[:port]' targets")
	flags.IntP("parallel", "p", 0, "number of concurrent tasks")
	flags.DurationP("timeout", "t", 0, "per-task timeout (0 = unlimited)")
	flags.StringP("user", "l", "", "default remote user")
	flags.String("port", "", "default remote port")
	flags.StringP("outdir", "o", "", "directory for per-host stdout files")
	flags.StringP("errdir", "e", "", "directory for per-host stderr files")
	flags.BoolP("inline", "i", false, "buffer stdout and stderr for end-of-run display")
	flags.Bool("inline-stdout", false, "buffer stdout only for end-of-run display")
	flags.BoolP("send-input", "I", false, "read stdin once and send it to every task")
	flags.BoolP("print", "P", false, "stream annotated output as it arrives")
	flags.Bool("summary", false, "print a per-host summary table after the run")
	flags.Bool("native", false, "use the in-process SSH transport instead of the ssh binary")
	flags.String("identity", "", "private key file for the native transport")
	flags.StringSlice("ssh-arg", nil, "extra argument for the ssh binary (repeatable)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// runFanout is the run itself: one batch, then exit
func runFanout(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}

	manager := config.NewManager(cfgFile)
	cfg, err := manager.Load()
	if err != nil {
		return err
	}
	opts := mergeFlags(cmd, cfg)

	endpoints, err := hostlist.Load(opts.hostFiles, opts.hostLiterals)
	if err != nil {
		return err
	}
	if opts.port != "" {
		for i := range endpoints {
			if endpoints[i].Port == "" {
				endpoints[i].Port = opts.port
			}
		}
	}

	// Input broadcast: capture the payload once, in full, before
	// scheduling; every task receives the same bytes.
	var stdin []byte
	if opts.sendInput {
		stdin, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading input payload: %w", err)
		}
	}

	outputOpts := executor.OutputOptions{
		LivePrint:    opts.print,
		Inline:       opts.inline,
		InlineStdout: opts.inlineStdout,
		OutDir:       opts.outDir,
		ErrDir:       opts.errDir,
	}

	printer := output.NewPrinter(os.Stdout, os.Stderr, output.NewColorScheme(os.Stdout, opts.noColor))
	router := output.NewRouter(outputOpts, printer, slog.Default())
	if err := router.Prepare(); err != nil {
		return err
	}

	run, err := buildRunner(cfg, opts)
	if err != nil {
		return err
	}

	pool := executor.NewPool(opts.parallel, run, router, slog.Default())
	reporter := output.NewReporter(os.Stdout, os.Stderr, output.NewColorScheme(os.Stderr, opts.noColor))
	pool.OnResult(reporter.TaskDone)

	for _, ep := range endpoints {
		spec := executor.TaskSpec{
			Endpoint: ep,
			Command:  args,
			Stdin:    stdin,
			Timeout:  opts.timeout,
			Output:   outputOpts,
		}
		if err := pool.Submit(spec); err != nil {
			return err
		}
	}

	results, err := pool.Execute(cmd.Context())
	if err != nil {
		return err
	}

	if opts.inline || opts.inlineStdout {
		reporter.PrintInline(results)
	}
	if opts.summary {
		if err := output.FormatSummary(os.Stdout, results, opts.noColor); err != nil {
			return err
		}
	}

	if status := executor.Reduce(results); status != executor.StatusSuccess {
		return &executor.StatusError{Status: status}
	}
	return nil
}

// runOptions is the merged flag/config view of one run
type runOptions struct {
	hostFiles    []string
	hostLiterals []string
	parallel     int
	timeout      time.Duration
	user         string
	port         string
	outDir       string
	errDir       string
	inline       bool
	inlineStdout bool
	sendInput    bool
	print        bool
	summary      bool
	noColor      bool
	native       bool
	identity     string
	sshArgs      []string
}

// mergeFlags resolves each setting with flag > config file > built-in
// default precedence
func mergeFlags(cmd *cobra.Command, cfg *config.FanoutConfig) runOptions {
	flags := cmd.Flags()

	opts := runOptions{
		parallel: cfg.Defaults.Parallel,
		timeout:  cfg.Defaults.Timeout,
		user:     cfg.Defaults.User,
		port:     cfg.Defaults.Port,
		outDir:   cfg.Defaults.OutDir,
		errDir:   cfg.Defaults.ErrDir,
		noColor:  cfg.Defaults.NoColor,
		native:   cfg.SSH.Native,
		identity: cfg.SSH.IdentityFile,
	}

	opts.hostFiles, _ = flags.GetStringSlice("hosts")
	opts.hostLiterals, _ = flags.GetStringSlice("host")
	opts.inline, _ = flags.GetBool("inline")
	opts.inlineStdout, _ = flags.GetBool("inline-stdout")
	opts.sendInput, _ = flags.GetBool("send-input")
	opts.print, _ = flags.GetBool("print")
	opts.summary, _ = flags.GetBool("summary")
	opts.sshArgs, _ = flags.GetStringSlice("ssh-arg")

	if flags.Changed("parallel") {
		opts.parallel, _ = flags.GetInt("parallel")
	}
	if flags.Changed("timeout") {
		opts.timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("user") {
		opts.user, _ = flags.GetString("user")
	}
	if flags.Changed("port") {
		opts.port, _ = flags.GetString("port")
	}
	if flags.Changed("outdir") {
		opts.outDir, _ = flags.GetString("outdir")
	}
	if flags.Changed("errdir") {
		opts.errDir, _ = flags.GetString("errdir")
	}
	if flags.Changed("no-color") {
		opts.noColor, _ = flags.GetBool("no-color")
	}
	if flags.Changed("native") {
		opts.native, _ = flags.GetBool("native")
	}
	if flags.Changed("identity") {
		opts.identity, _ = flags.GetString("identity")
	}

	return opts
}

// buildRunner selects and configures the transport
func buildRunner(cfg *config.FanoutConfig, opts runOptions) (executor.Runner, error) {
	if opts.native {
		return runner.NewNativeRunner(runner.NativeConfig{
			User:           opts.user,
			IdentityFile:   opts.identity,
			KnownHostsFile: cfg.SSH.KnownHostsFile,
			StrictHostKey:  cfg.SSH.StrictHostKey,
			Grace:          cfg.SSH.Grace,
		}, slog.Default())
	}

	sshArgs := make([]string, 0, len(runner.DefaultSSHArgs)+len(cfg.SSH.Args)+len(opts.sshArgs))
	sshArgs = append(sshArgs, runner.DefaultSSHArgs...)
	sshArgs = append(sshArgs, cfg.SSH.Args...)
	sshArgs = append(sshArgs, opts.sshArgs...)

	r := runner.NewExecRunner(cfg.SSH.Binary, sshArgs, cfg.SSH.Grace, slog.Default())
	r.User = opts.user
	return r, nil
}

// setupLogging configures structured logging with slog
func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	noColor, _ := cmd.Flags().GetBool("no-color")

	// Set log level based on verbose flag
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	// Create handler options
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if noColor {
		// Use JSON handler for no-color mode
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		// Use text handler for colored output
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	// Set default logger
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if verbose {
		slog.Debug("verbose logging enabled")
	}
}
