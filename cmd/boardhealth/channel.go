package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"boardhealth/internal/status"
	"boardhealth/internal/store"
)

var (
	flagChannel string
	flagName    string
	flagStatus  string
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage hardware channel rows",
}

var channelAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Add a channel row",
	Example: `  boardhealth channel add --channel CH1 --name vdd_core --status Active`,
	Args:    cobra.NoArgs,
	RunE:    runChannelAdd,
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channel rows as JSON",
	Args:  cobra.NoArgs,
	RunE:  runChannelList,
}

func init() {
	channelAddCmd.Flags().StringVar(&flagChannel, "channel", "", "channel identifier")
	channelAddCmd.Flags().StringVar(&flagName, "name", "", "channel name")
	channelAddCmd.Flags().StringVar(&flagStatus, "status", string(status.Unknown), "channel status")
	_ = channelAddCmd.MarkFlagRequired("channel")
	_ = channelAddCmd.MarkFlagRequired("name")

	channelCmd.AddCommand(channelAddCmd)
	channelCmd.AddCommand(channelListCmd)
}

func runChannelAdd(cmd *cobra.Command, args []string) error {
	st, err := status.Parse(flagStatus)
	if err != nil {
		return fmt.Errorf("%w (valid: %v)", err, status.All())
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := db.InsertChannel(cmd.Context(), store.ChannelRow{Channel: flagChannel, Name: flagName, Status: st.String()})
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "channel %d added\n", id)
	return nil
}

func runChannelList(cmd *cobra.Command, args []string) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListChannels(cmd.Context())
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
