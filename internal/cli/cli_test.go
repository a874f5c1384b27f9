package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/voxrelay.yaml", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/voxrelay.yaml", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantErr      string
		wantCmd      Command
		wantHelp     bool
		wantPath     string
		wantPipeline string
	}{
		{
			name:     "help short flag",
			args:     []string{"-h"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help long flag",
			args:     []string{"--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help command",
			args:     []string{"help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "subcommand help flag",
			args:     []string{"talk", "--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "version flag",
			args:     []string{"--version"},
			wantCmd:  CommandVersion,
			wantHelp: false,
		},
		{
			name:     "config after command",
			args:     []string{"status", "--config", "/tmp/cfg"},
			wantCmd:  CommandStatus,
			wantPath: "/tmp/cfg",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "flag needs an argument",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after command",
			args:    []string{"doctor", "extra"},
			wantErr: "unknown command",
		},
		{
			name:    "pipeline flag on other command",
			args:    []string{"serve", "--pipeline", "turn"},
			wantErr: "unknown flag",
		},
		{
			name:    "invalid pipeline",
			args:    []string{"talk", "--pipeline", "batch"},
			wantErr: "invalid --pipeline",
		},
		{
			name:    "talk default pipeline",
			args:    []string{"talk"},
			wantCmd: CommandTalk,
		},
		{
			name:         "talk turn pipeline",
			args:         []string{"talk", "--pipeline", "turn"},
			wantCmd:      CommandTalk,
			wantPipeline: PipelineTurn,
		},
		{
			name:         "talk realtime pipeline with equals",
			args:         []string{"talk", "--pipeline=realtime"},
			wantCmd:      CommandTalk,
			wantPipeline: PipelineRealtime,
		},
		{
			name:    "valid serve command",
			args:    []string{"serve"},
			wantCmd: CommandServe,
		},
		{
			name:    "valid devices command",
			args:    []string{"devices"},
			wantCmd: CommandDevices,
		},
		{
			name:    "valid version command",
			args:    []string{"version"},
			wantCmd: CommandVersion,
		},
		{
			name:     "valid stop with config",
			args:     []string{"--config", "/tmp/cfg", "stop"},
			wantCmd:  CommandStop,
			wantPath: "/tmp/cfg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
			require.Equal(t, tc.wantPipeline, parsed.Pipeline)
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("voxrelay")
	require.Contains(t, text, "voxrelay")
	require.Contains(t, text, "serve")
	require.Contains(t, text, "talk")
	require.Contains(t, text, "stop")
	require.Contains(t, text, "status")
	require.Contains(t, text, "doctor")
	require.Contains(t, text, "--config")
}
