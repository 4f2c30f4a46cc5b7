package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tdh8316/handlecheck/internal/config"
)

// Command names passed to the handler.
const (
	CmdCheck     = "check"
	CmdPlatforms = "platforms"
	CmdValidate  = "validate"
	CmdShow      = "show"
	CmdUpdate    = "update"
)

// UsageError marks a bad command line. It maps to exit status 2.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Input says where the usernames of a check come from. The first non-empty
// source wins in this order: Interactive, File, Usernames, Username.
type Input struct {
	Username    string
	File        string
	Usernames   []string
	Interactive bool
}

func (in Input) Empty() bool {
	return !in.Interactive && in.File == "" && len(in.Usernames) == 0 && in.Username == ""
}

// Invocation is a parsed command line.
type Invocation struct {
	Command string
	Args    []string
	Input   Input
	Config  *config.Config

	// Cmd is the cobra command that matched, for printing help.
	Cmd *cobra.Command
}

type Handler func(ctx context.Context, inv *Invocation) error

const examples = `  handlecheck john_doe
  handlecheck -f usernames.txt --save
  handlecheck -u user1,user2,user3 --parallel
  handlecheck -i
  handlecheck validate --sites GitHub,Reddit
  handlecheck show username_check_john_doe_1700000000.json`

// persistentKeys maps global flags to configuration keys.
var persistentKeys = map[string]string{
	"timeout":     "timeout",
	"concurrency": "concurrency",
	"delay":       "delay",
	"parallel":    "parallel",
	"workers":     "workers",
	"user-agent":  "user_agent",
	"platforms":   "platforms",
	"sites":       "sites",
	"output":      "output",
	"save":        "save",
	"proxy":       "proxy",
	"tor":         "tor",
	"no-color":    "no_color",
	"verbose":     "verbose",
}

// NewRootCommand builds the command tree. handle runs once per successful
// parse with the merged configuration.
func NewRootCommand(stdout, stderr io.Writer, handle Handler) *cobra.Command {
	v := config.New()
	var (
		cfgFile string
		input   Input
		cfg     *config.Config
	)

	root := &cobra.Command{
		Use:   "handlecheck [username]",
		Short: "Check whether a username is taken across social platforms",
		Long: `handlecheck probes a fixed set of platforms for a username and reports,
per platform, whether the handle is available, taken, or could not be determined.`,
		Example:       examples,
		Args:          usageArgs(cobra.MaximumNArgs(1)),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(v, cfgFile)
			if err != nil {
				return &UsageError{Err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				input.Username = strings.TrimSpace(args[0])
			}
			return handle(cmd.Context(), &Invocation{
				Command: CmdCheck,
				Args:    args,
				Input:   input,
				Config:  cfg,
				Cmd:     cmd,
			})
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	flags := root.Flags()
	flags.StringVarP(&input.File, "file", "f", "", "file with one username per line")
	flags.StringSliceVarP(&input.Usernames, "usernames", "u", nil, "comma-separated usernames")
	flags.BoolVarP(&input.Interactive, "interactive", "i", false, "prompt for usernames until 'exit'")

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./handlecheck.yaml if present)")
	pf.IntP("timeout", "t", 10, "per-request timeout in seconds")
	pf.Int("concurrency", 10, "concurrent requests per username")
	pf.Duration("delay", config.DefaultDelay, "pause between usernames in sequential mode")
	pf.Bool("parallel", false, "scan several usernames at once")
	pf.Int("workers", 2, "usernames scanned at once with --parallel")
	pf.String("user-agent", "", "User-Agent header (default: a desktop browser)")
	pf.String("platforms", "", "platform definition file (default: built-in platforms)")
	pf.StringSlice("sites", nil, "only check these platforms, comma-separated")
	pf.StringP("output", "o", ".", "directory for saved results")
	pf.BoolP("save", "s", false, "save results as JSON")
	pf.String("proxy", "", "SOCKS5 proxy URL for all requests")
	pf.Bool("tor", false, "route requests through the local Tor proxy")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("verbose", "v", false, "show per-platform details and debug logs")

	if err := bindFlags(v, pf); err != nil {
		// Flag names are fixed above; a failure here is a programming error.
		panic(err)
	}

	sub := func(name string, cmd *cobra.Command, args []string) error {
		return handle(cmd.Context(), &Invocation{Command: name, Args: args, Config: cfg, Cmd: cmd})
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "platforms",
			Short: "List the platforms that would be checked",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sub(CmdPlatforms, cmd, args)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Probe each platform with a known taken and a known free username",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sub(CmdValidate, cmd, args)
			},
		},
		&cobra.Command{
			Use:   "show FILE...",
			Short: "Print results saved with --save",
			Args:  usageArgs(cobra.MinimumNArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sub(CmdShow, cmd, args)
			},
		},
		&cobra.Command{
			Use:   "update URL",
			Short: "Download a platform file to the --platforms path",
			Args:  usageArgs(cobra.ExactArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sub(CmdUpdate, cmd, args)
			},
		},
	)

	return root
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range persistentKeys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
}
