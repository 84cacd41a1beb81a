package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	fridareload "github.com/nixlim/frida-reload"
	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/logger"
)

const (
	defaultCLISpawn   = config.SpawnAlways
	defaultCLIRetries = 15
	defaultCLIDelayMs = 1000
)

type rootFlags struct {
	pkg         string
	target      string
	attach      bool
	spawn       string
	retries     int
	delayMs     int
	output      string
	device      string
	usb         bool
	local       bool
	configPath  string
	childGating bool
	messageLog  string
	journal     string
}

func newRootCmd() (*cobra.Command, *logger.Logger) {
	log := logger.New("frida-reload")
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:   "frida-reload [entry]",
		Short: "Bundles a Frida script, injects it and reloads it on every change",
		Long: `frida-reload bundles an instrumentation script and its imports into one file,
attaches to or spawns the target process, loads the bundle into it and reloads
it whenever one of the bundled source files changes.

Settings are read from frida-reload.toml in the working directory (or --config)
and overridden by any flag given on the command line.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPartial(cmd.Flags(), flags, args, log)
			if err != nil {
				return err
			}
			cfg, err := fridareload.DefineConfig(p)
			if err != nil {
				return err
			}
			return fridareload.Start(cmd.Context(), cfg,
				fridareload.WithLogger(log.Logger),
				fridareload.WithConsoleClear(log.ClearConsole),
			)
		},
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	flags.bind(rootCmd.Flags())
	flags.bindPersistent(rootCmd.PersistentFlags())
	log.AddLevelFlag(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newHistoryCmd(&flags, log))

	return rootCmd, log
}

func (f *rootFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.pkg, "package", "", "Package identifier of the target, used for lookup and spawning")
	fs.StringVar(&f.target, "target", "", "Process name of the target")
	fs.BoolVar(&f.attach, "attach", false, "Only attach to a running process, never spawn")
	fs.StringVar(&f.spawn, "spawn", string(defaultCLISpawn), "Spawn preference: always, try or never")
	fs.IntVar(&f.retries, "retries", defaultCLIRetries, "Maximum attach attempts")
	fs.IntVar(&f.delayMs, "delay", defaultCLIDelayMs, "Delay between attach attempts in milliseconds")
	fs.StringVar(&f.output, "output", "", "Bundle output file or directory")
	fs.StringVar(&f.device, "device", "", "Device source: usb or local")
	fs.BoolVar(&f.usb, "usb", false, "Use the USB device")
	fs.BoolVar(&f.local, "local", false, "Use the local device")
	fs.BoolVar(&f.childGating, "child-gating", false, "Enable child gating on the session")
	fs.StringVar(&f.messageLog, "message-log", "", "Append every script message to this JSONL file")
}

func (f *rootFlags) bindPersistent(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", config.DefaultFileName, "Project file")
	fs.StringVar(&f.journal, "journal", "", "SQLite journal of builds and deploys")
}

// loadPartial layers the CLI defaults, the project file and the flags the
// user actually set, in that order.
func loadPartial(fs *pflag.FlagSet, flags rootFlags, args []string, log *logger.Logger) (config.Partial, error) {
	if fs.Changed("retries") && flags.retries < 1 {
		return config.Partial{}, config.NewValidationError(fmt.Sprintf("--retries must be at least 1, got %d", flags.retries))
	}
	if fs.Changed("delay") && flags.delayMs < 0 {
		return config.Partial{}, config.NewValidationError(fmt.Sprintf("--delay must not be negative, got %d", flags.delayMs))
	}

	loaded, err := config.LoadFrom(flags.configPath)
	if err != nil {
		return config.Partial{}, err
	}
	for _, w := range loaded.Warnings {
		log.Info("Config warning", "warning", w)
	}

	defaults := config.Partial{
		Target: config.Target{Source: config.SourceUSB},
		Attach: config.AttachDetails{
			Spawn:       defaultCLISpawn,
			MaxAttempts: config.Ptr(defaultCLIRetries),
			Delay:       config.Ptr(time.Duration(defaultCLIDelayMs) * time.Millisecond),
		},
	}

	return config.Merge(config.Merge(defaults, loaded.Partial), flagPartial(fs, flags, args)), nil
}

func flagPartial(fs *pflag.FlagSet, flags rootFlags, args []string) config.Partial {
	var p config.Partial
	if len(args) > 0 {
		p.EntryPoint = args[0]
	}
	p.Target.Name = flags.target
	p.Target.Package = flags.pkg
	p.Target.Source = deviceSource(fs, flags)
	p.Output = flags.output
	p.ChildGating = flags.childGating
	p.MessageLog = flags.messageLog
	p.Journal = flags.journal

	var attach config.AttachDetails
	if fs.Changed("spawn") {
		attach.Spawn = config.SpawnMode(flags.spawn)
	}
	if flags.attach {
		attach.Spawn = config.SpawnNever
	}
	if fs.Changed("retries") {
		attach.MaxAttempts = config.Ptr(flags.retries)
	}
	if fs.Changed("delay") {
		attach.Delay = config.Ptr(time.Duration(flags.delayMs) * time.Millisecond)
	}
	if attach != (config.AttachDetails{}) {
		p.Attach = attach
	}
	return p
}

// deviceSource applies --usb > --local > --device. It returns "" when
// none was given so the project file can decide.
func deviceSource(fs *pflag.FlagSet, flags rootFlags) config.SourceKind {
	switch {
	case flags.usb:
		return config.SourceUSB
	case flags.local:
		return config.SourceLocal
	case fs.Changed("device"):
		return config.SourceKind(flags.device)
	default:
		return ""
	}
}
