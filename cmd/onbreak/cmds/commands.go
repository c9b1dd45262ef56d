package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/spf13/cobra"

	"github.com/go-delve/onbreak/cmd/onbreak/cmds/helphelpers"
	"github.com/go-delve/onbreak/pkg/attach"
	"github.com/go-delve/onbreak/pkg/config"
	"github.com/go-delve/onbreak/pkg/eventloop"
	"github.com/go-delve/onbreak/pkg/locspec"
	"github.com/go-delve/onbreak/pkg/logflags"
	"github.com/go-delve/onbreak/pkg/reaction"
	"github.com/go-delve/onbreak/pkg/target"
	"github.com/go-delve/onbreak/pkg/version"
	"github.com/go-delve/onbreak/service/rpcclient"
)

var (
	// configPath is the path of the configuration file.
	configPath string
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// dialTimeout bounds the time spent connecting to the debug server.
	dialTimeout time.Duration
	// maxReactions caps the number of reaction commands running at once.
	maxReactions int
	// maxStringLen is the maximum length of the strings read from the target.
	maxStringLen int

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const onbreakCommandLongDesc = `onbreak runs a command every time a running Go program calls a method.

It connects to a headless Delve server attached to the program, sets a
breakpoint on the method, and on every hit launches the command and logs
the string arguments and local variables of the method. The program is
resumed immediately after each hit.

The debug server must be started with --accept-multiclient, for example:

	dlv attach 1234 --headless --accept-multiclient --listen=127.0.0.1:5005
	onbreak 127.0.0.1:5005 github.com/org/app/server.Server.handle 'notify-send hit'

The command is split into arguments honoring quotes but it is not run
by a shell. Quote it as a single argument.`

// New returns an initialized command tree.
func New() *cobra.Command {
	rootCommand = &cobra.Command{
		Use:   "onbreak [flags] host:port package.Type.method command",
		Short: "Run a command when a method of a running Go program is called.",
		Long:  onbreakCommandLongDesc,
		Args:  checkArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(cmd, args))
		},
	}

	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Path of the YAML configuration file (see 'onbreak config').")
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'onbreak help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'onbreak help log').")

	rootCommand.Flags().DurationVar(&dialTimeout, "dial-timeout", config.DefaultDialTimeout, "Maximum time spent connecting to the debug server.")
	rootCommand.Flags().IntVar(&maxReactions, "max-reactions", 0, "Maximum number of commands running at the same time, 0 means no limit.")
	rootCommand.Flags().IntVar(&maxStringLen, "max-string-len", config.DefaultMaxStringLen, "Maximum length of the string variables logged on each hit.")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("onbreak\n%s\n", version.OnbreakVersion)
			fmt.Printf("Delve client: %s\n", version.DelveClientVersion())
			if log {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Prints the default configuration file.",
		Long: `Prints a configuration file listing every option with its default value.

Save it, uncomment the options to change and pass it with --config.
Options given on the command line take precedence over the file.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := config.WriteDefaultConfig(os.Stdout); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	rootCommand.AddCommand(configCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	attach		Log connection to the debug server.
	resolver	Log breakpoint resolution.
	eventloop	Log event loop activity (default).
	reaction	Log reaction commands and their exit status.
	rpc		Log all RPC messages.

Breakpoint hits, variable values and warnings are always logged.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	usageFn := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return usageFn(cmd)
	})

	rootCommand.CompletionOptions.DisableDefaultCmd = true

	return rootCommand
}

func checkArgs(cmd *cobra.Command, args []string) error {
	if len(args) < 3 {
		return errors.New(`requires "host:port", "package.Type.method" and "command" arguments`)
	}
	if len(args) > 3 {
		return fmt.Errorf("too many arguments, quote the command as a single argument: %q", strings.Join(args[2:], " "))
	}
	return nil
}

// options is the configuration of a run, merged from the config file and
// the command line.
type options struct {
	ref     target.Ref
	spec    target.BreakpointSpec
	command string

	dialTimeout  time.Duration
	maxReactions int
	loadConfig   api.LoadConfig
}

func parseArgs(args []string, conf *config.Config) (*options, error) {
	ref, err := target.ParseRef(args[0])
	if err != nil {
		return nil, err
	}
	spec, err := target.ParseBreakpointSpec(args[1])
	if err != nil {
		return nil, err
	}
	return &options{
		ref:          ref,
		spec:         spec,
		command:      args[2],
		dialTimeout:  conf.GetDialTimeout(),
		maxReactions: conf.GetMaxReactions(),
		loadConfig: api.LoadConfig{
			FollowPointers:     false,
			MaxVariableRecurse: 0,
			MaxStringLen:       conf.GetMaxStringLen(),
			MaxArrayValues:     conf.GetMaxArrayValues(),
			MaxStructFields:    -1,
		},
	}, nil
}

// mergeFlags overrides the values of conf with the flags given on the
// command line.
func mergeFlags(cmd *cobra.Command, conf *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("dial-timeout") {
		conf.DialTimeout = &dialTimeout
	}
	if flags.Changed("max-reactions") {
		conf.MaxReactions = &maxReactions
	}
	if flags.Changed("max-string-len") {
		conf.MaxStringLen = &maxStringLen
	}
	if flags.Changed("log") {
		conf.Log = log
	}
	if flags.Changed("log-output") {
		conf.LogOutput = logOutput
	}
	if flags.Changed("log-dest") {
		conf.LogDest = logDest
	}
}

func execute(cmd *cobra.Command, args []string) int {
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	mergeFlags(cmd, conf)

	if err := logflags.Setup(conf.Log, conf.LogOutput, conf.LogDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	opts, err := parseArgs(args, conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()

	return run(ctx, opts)
}

// run attaches to the target, sets the breakpoint and handles hits until
// ctx is cancelled or the target exits.
func run(ctx context.Context, opts *options) int {
	launcher, err := reaction.New(opts.command, opts.maxReactions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid command: %v\n", err)
		return 1
	}

	connectors := []attach.Connector{
		rpcclient.NewConnector(rpcclient.Config{
			DialTimeout: opts.dialTimeout,
			LoadConfig:  opts.loadConfig,
		}),
	}
	p, err := attach.Attach(ctx, connectors, opts.ref)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		if err := p.Detach(); err != nil {
			fmt.Fprintf(os.Stderr, "could not detach: %v\n", err)
		}
	}()

	loc, err := locspec.Resolve(p, opts.spec)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	id, err := p.CreateBreakpoint(loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not set breakpoint at %s: %v\n", loc, err)
		return 1
	}

	loop := eventloop.New(p, id, eventloop.NewHook(loc, p, launcher))
	err = loop.Run(ctx)
	stats := loop.Stats()
	logflags.EventLoopLogger().Debugf("handled %d batches, %d hits, %d errors", stats.Batches, stats.Hits, stats.Errors)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
