package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/notepid/twilight_pm/internal/pm"
)

var (
	markLabel    int
	deleteFolder string
	deleteAll    bool
	pruneDays    int
	pruneDryRun  bool
)

var markReadCmd = &cobra.Command{
	Use:   "mark-read [MSG...]",
	Short: "Mark messages read (all unread messages without arguments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		var ids []int
		if len(args) > 0 {
			if ids, err = parseIDs(args); err != nil {
				return err
			}
		}
		var label *int
		if cmd.Flags().Changed("label") {
			label = &markLabel
		}
		n, err := application.PM.MarkRead(a, ids, label)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		fmt.Printf("Marked %d message(s) read.\n", n)
		return nil
	},
}

var markUnreadCmd = &cobra.Command{
	Use:   "mark-unread MSG...",
	Short: "Mark messages unread",
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
		n, err := application.PM.MarkUnread(a, ids)
		if err != nil {
			return fmt.Errorf("mark unread: %w", err)
		}
		fmt.Printf("Marked %d message(s) unread.\n", n)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [MSG...]",
	Short: "Delete messages from a folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		folder, err := pm.ParseFolder(deleteFolder)
		if err != nil {
			return err
		}
		var ids []int
		switch {
		case deleteAll && len(args) > 0:
			return fmt.Errorf("--all takes no message ids")
		case deleteAll:
			// nil ids covers the whole folder.
		case len(args) == 0:
			return fmt.Errorf("give message ids or --all")
		default:
			if ids, err = parseIDs(args); err != nil {
				return err
			}
		}
		if err := application.PM.DeleteMessages(a, ids, folder); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sent and received messages older than a number of days",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		if pruneDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		before := time.Now().AddDate(0, 0, -pruneDays)
		if pruneDryRun {
			ids, err := application.PM.PMsOlderThan(a, before)
			if err != nil {
				return fmt.Errorf("find old messages: %w", err)
			}
			if ok, err := printJSON(cmd, ids); ok || err != nil {
				return err
			}
			fmt.Printf("%d message(s) older than %s would be deleted.\n", len(ids), before.Format("2006-01-02"))
			return nil
		}
		n, err := application.PM.PruneOlderThan(a, before)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d message(s) older than %s.\n", n, before.Format("2006-01-02"))
		return nil
	},
}

var enterCmd = &cobra.Command{
	Use:   "enter",
	Short: "Open the mailbox: file new mail through the rules and show counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		labels, err := application.PM.EnterMailbox(a)
		if err != nil {
			return fmt.Errorf("enter mailbox: %w", err)
		}
		return printLabels(cmd, labels)
	},
}

func init() {
	markReadCmd.Flags().IntVarP(&markLabel, "label", "l", pm.InboxLabel, "Only messages with this label")
	deleteCmd.Flags().StringVarP(&deleteFolder, "folder", "f", "all", "Folder: inbox, sent or all")
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "Delete every message in the folder")

	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Age in days of the newest message to delete")
	pruneCmd.Flags().BoolVarP(&pruneDryRun, "dry-run", "n", false, "Only count the messages")
	_ = pruneCmd.MarkFlagRequired("days")

	rootCmd.AddCommand(markReadCmd, markUnreadCmd, deleteCmd, pruneCmd, enterCmd)
}
