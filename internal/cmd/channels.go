package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Print the preset channel declarations as YAML",
	Long: `Channels prints the lab preset channels for a peer, with any --limit
overrides applied. The output is a valid --channels file to start from.`,
	Args: cobra.NoArgs,
	RunE: runChannels,
}

var (
	channelsTag    string
	channelsLimits = newLimitsFlag()
)

func init() {
	channelsCmd.Flags().StringVar(&channelsTag, "tag", string(connection.TagLocal), "connection tag of the peer")
	channelsCmd.Flags().Var(channelsLimits, "limit", "channel limits as name=min:max or name=n, repeatable")
	rootCmd.AddCommand(channelsCmd)
}

func runChannels(cmd *cobra.Command, args []string) error {
	tag, err := connection.ParseTag(channelsTag)
	if err != nil {
		return err
	}
	cfg, err := tracker.GenerateConfig(tag, channelsLimits.limits)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
