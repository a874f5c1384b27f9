// Package cli parses the voxrelay command line into a single dispatch target.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type Command string

const (
	CommandServe   Command = "serve"
	CommandTalk    Command = "talk"
	CommandStop    Command = "stop"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// Pipeline names accepted by talk --pipeline.
const (
	PipelineRealtime = "realtime"
	PipelineTurn     = "turn"
)

const defaultBinaryName = "voxrelay"

type Parsed struct {
	Command    Command
	ConfigPath string
	// Pipeline is the talk backend override; empty keeps the configured one.
	Pipeline string
	ShowHelp bool
}

// Parse resolves args into a command. Parsing never runs the command itself;
// every RunE only records what was chosen.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	root := newRootCommand(defaultBinaryName, &parsed)
	// cobra falls back to os.Args on a nil slice.
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	if err := root.Execute(); err != nil {
		return Parsed{}, err
	}
	return parsed, nil
}

// HelpText renders the usage shown by help and on usage errors.
func HelpText(binaryName string) string {
	var parsed Parsed
	root := newRootCommand(binaryName, &parsed)
	return root.UsageString()
}

func newRootCommand(binaryName string, parsed *Parsed) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   binaryName,
		Short: "Realtime voice conversations through a credential-holding relay",
		Long: `voxrelay streams microphone audio to a speech AI service through a relay
that holds the API credential, and prints the live transcript and replies.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				parsed.Command = CommandVersion
				parsed.ShowHelp = false
			}
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&parsed.ConfigPath, "config", "", "Config file path (default: $XDG_CONFIG_HOME/voxrelay/config.yaml)")
	root.Flags().BoolVar(&showVersion, "version", false, "Show version")

	root.AddCommand(
		leafCommand(parsed, CommandServe, "Run the relay server (WebSocket proxy, REST API, gRPC health)"),
		talkCommand(parsed),
		leafCommand(parsed, CommandStop, "Stop the running conversation after a final response"),
		leafCommand(parsed, CommandStatus, "Print the running conversation's state and transcript"),
		leafCommand(parsed, CommandDevices, "List available input devices"),
		leafCommand(parsed, CommandDoctor, "Run configuration and environment checks"),
		leafCommand(parsed, CommandVersion, "Print version information"),
	)
	return root
}

func leafCommand(parsed *Parsed, command Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(command),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			parsed.Command = command
			parsed.ShowHelp = false
			return nil
		},
	}
}

func talkCommand(parsed *Parsed) *cobra.Command {
	cmd := leafCommand(parsed, CommandTalk, "Start a conversation from the microphone")
	cmd.Flags().StringVar(&parsed.Pipeline, "pipeline", "", "Backend to talk to: realtime or turn (default: conversation.pipeline)")

	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, args []string) error {
		parsed.Pipeline = strings.TrimSpace(parsed.Pipeline)
		switch parsed.Pipeline {
		case "", PipelineRealtime, PipelineTurn:
		default:
			return fmt.Errorf("invalid --pipeline %q (want %s or %s)", parsed.Pipeline, PipelineRealtime, PipelineTurn)
		}
		return run(c, args)
	}
	return cmd
}
