package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notepid/twilight_pm/internal/pm"
)

var labelsRefresh bool

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List labels with message counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		labels, err := application.PM.CountLabels(a, labelsRefresh)
		if err != nil {
			return fmt.Errorf("count labels: %w", err)
		}
		return printLabels(cmd, labels)
	},
}

func printLabels(cmd *cobra.Command, labels []pm.Label) error {
	if ok, err := printJSON(cmd, labels); ok {
		return err
	}
	for _, l := range labels {
		fmt.Printf("  %4d  %-24s %5d messages  %5d unread\n", l.ID, l.Name, l.Messages, l.Unread)
	}
	return nil
}

var labelsAddCmd = &cobra.Command{
	Use:   "add NAME...",
	Short: "Create labels",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		ids, err := application.PM.AddLabels(a, args)
		if err != nil {
			return fmt.Errorf("add labels: %w", err)
		}
		if ok, err := printJSON(cmd, ids); ok {
			return err
		}
		fmt.Printf("Created %d label(s): %v\n", len(ids), ids)
		return nil
	},
}

var labelsRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a label (a blank name deletes it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid label id %q", args[0])
		}
		if err := application.PM.UpdateLabels(a, map[int]string{id: args[1]}); err != nil {
			return fmt.Errorf("rename label: %w", err)
		}
		return nil
	},
}

var labelsDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete labels and take them off messages and rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		truncated, err := application.PM.DeleteLabels(a, ids)
		if err != nil {
			return fmt.Errorf("delete labels: %w", err)
		}
		if truncated > 0 {
			fmt.Printf("%d label set(s) were truncated.\n", truncated)
		}
		return nil
	},
}

var labelsStripCmd = &cobra.Command{
	Use:   "strip ID...",
	Short: "Take labels off every message without deleting them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		n, err := application.PM.RemoveLabelsFromPMs(a, ids)
		if err != nil {
			return fmt.Errorf("strip labels: %w", err)
		}
		fmt.Printf("Updated %d message(s).\n", n)
		return nil
	},
}

var labelOps = map[string]pm.LabelOp{
	"add":    pm.LabelAdd,
	"remove": pm.LabelRemove,
	"toggle": pm.LabelToggle,
}

var labelCmd = &cobra.Command{
	Use:   "label add|remove|toggle LABEL MSG...",
	Short: "Change the labels of messages",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		op, ok := labelOps[strings.ToLower(args[0])]
		if !ok {
			return fmt.Errorf("unknown label operation %q", args[0])
		}
		label, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid label id %q", args[1])
		}
		ids, err := parseIDs(args[2:])
		if err != nil {
			return err
		}
		changes := make([]pm.LabelChange, 0, len(ids))
		for _, id := range ids {
			changes = append(changes, pm.LabelChange{MessageID: id, LabelID: label, Op: op})
		}
		n, err := application.PM.ChangePMLabels(a, changes)
		if err != nil {
			return fmt.Errorf("change labels: %w", err)
		}
		fmt.Printf("Updated %d message(s).\n", n)
		return nil
	},
}

func init() {
	labelsCmd.Flags().BoolVar(&labelsRefresh, "refresh", false, "Recount instead of using cached counts")
	labelsCmd.AddCommand(labelsAddCmd, labelsRenameCmd, labelsDeleteCmd, labelsStripCmd)
	rootCmd.AddCommand(labelsCmd, labelCmd)
}
