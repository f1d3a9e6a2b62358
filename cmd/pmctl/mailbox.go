package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/notepid/twilight_pm/internal/pm"
)

var (
	listFolder       string
	listLabel        int
	listPage         int
	listSort         string
	listAsc          bool
	listConversation bool

	searchAny bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"inbox"},
	Short:   "List a folder of the mailbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		folder, err := pm.ParseFolder(listFolder)
		if err != nil {
			return err
		}
		sortKey, err := pm.ParseSortKey(listSort)
		if err != nil {
			return err
		}
		opts := pm.ListOptions{
			Folder:       folder,
			Conversation: listConversation,
			Sort:         sortKey,
			Desc:         !listAsc,
			Page:         listPage,
		}
		if cmd.Flags().Changed("label") {
			opts.Label = &listLabel
		}
		res, err := application.PM.List(a, opts)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		return printResult(cmd, folder, res)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the mailbox, e.g. from:alice label:3 after:2024-01-01 \"some phrase\"",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		p := pm.ParseSearchQuery(strings.Join(args, " "), time.Now())
		p.MatchAny = searchAny
		p.Page = listPage
		p.Desc = !listAsc
		p.Conversation = listConversation
		if !p.SentOnly && listFolder != "" {
			folder, err := pm.ParseFolder(listFolder)
			if err != nil {
				return err
			}
			p.Folder = folder
		}
		res, err := application.PM.Search(a, p)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		folder := p.Folder
		if p.SentOnly {
			folder = pm.FolderSent
		}
		return printResult(cmd, folder, res)
	},
}

var folderTitle = cases.Title(language.English)

func printResult(cmd *cobra.Command, folder pm.Folder, res *pm.SearchResult) error {
	if ok, err := printJSON(cmd, res); ok {
		return err
	}
	if len(res.Hits) == 0 {
		fmt.Println("No messages.")
		return nil
	}
	pages := (res.Total + res.PerPage - 1) / res.PerPage
	fmt.Printf("%s (%d messages, page %d/%d):\n\n", folderTitle.String(folder.String()), res.Total, res.Page, pages)
	for _, h := range res.Hits {
		flag := " "
		if folder == pm.FolderInbox && !h.State.IsRead() {
			flag = "*"
		}
		fmt.Printf("%s %6d  %-16s  %-20s  %s\n", flag, h.ID, h.SentAt.Format("2006-01-02 15:04"), truncate(h.FromName, 20), h.Subject)
		if h.Snippet != "" && h.Snippet != h.Body {
			fmt.Printf("          %s\n", h.Snippet)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

type readOutput struct {
	Message    *pm.Message       `json:"message"`
	Recipients *pm.RecipientList `json:"recipients"`
}

var readCmd = &cobra.Command{
	Use:   "read ID",
	Short: "Show a message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[0])
		}
		msg, err := application.PM.Read(a, id)
		if err != nil {
			return fmt.Errorf("read %d: %w", id, err)
		}
		rcpts, err := application.PM.GetRecipients(a, id)
		if err != nil {
			return fmt.Errorf("recipients of %d: %w", id, err)
		}
		if ok, err := printJSON(cmd, readOutput{Message: msg, Recipients: rcpts}); ok {
			return err
		}

		fmt.Printf("Subject: %s\n", msg.Subject)
		fmt.Printf("From:    %s\n", msg.FromName)
		fmt.Printf("To:      %s\n", strings.Join(rcpts.To, ", "))
		if len(rcpts.BCC) > 0 {
			fmt.Printf("Bcc:     %s\n", strings.Join(rcpts.BCC, ", "))
		} else if rcpts.BCCCount > 0 {
			fmt.Printf("Bcc:     %d hidden\n", rcpts.BCCCount)
		}
		fmt.Printf("Date:    %s\n", msg.SentAt.Format("2006-01-02 15:04"))
		fmt.Printf("Thread:  %d\n\n", msg.Head)
		fmt.Println(msg.Body)
		return nil
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread ID",
	Short: "List the visible messages of the conversation a message belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[0])
		}
		folder, err := pm.ParseFolder(listFolder)
		if err != nil {
			return err
		}
		heads, err := application.PM.GetDiscussions([]int{id})
		if err != nil {
			return err
		}
		head, ok := heads[id]
		if !ok {
			return fmt.Errorf("message %d not found", id)
		}
		entries, err := application.PM.LoadConversation(a, head, folder)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if ok, err := printJSON(cmd, entries); ok {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No visible messages.")
			return nil
		}
		fmt.Printf("Conversation %d:\n", head)
		for _, e := range entries {
			fmt.Printf("  %6d  from member %d\n", e.MessageID, e.SenderID)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{listCmd, searchCmd, threadCmd} {
		c.Flags().StringVarP(&listFolder, "folder", "f", "inbox", "Folder: inbox or sent")
	}
	for _, c := range []*cobra.Command{listCmd, searchCmd} {
		c.Flags().IntVarP(&listPage, "page", "p", 1, "Page number")
		c.Flags().BoolVar(&listAsc, "asc", false, "Oldest first")
		c.Flags().BoolVar(&listConversation, "conversations", false, "One row per conversation")
	}
	listCmd.Flags().IntVarP(&listLabel, "label", "l", pm.InboxLabel, "Only messages with this label")
	listCmd.Flags().StringVar(&listSort, "sort", "date", "Sort by date, subject or sender")
	searchCmd.Flags().BoolVar(&searchAny, "any", false, "Match any word instead of all")

	rootCmd.AddCommand(listCmd, searchCmd, readCmd, threadCmd)
}
