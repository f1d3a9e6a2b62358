package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notepid/twilight_pm/internal/pm"
)

var (
	sendTo      string
	sendBCC     string
	sendSubject string
	sendBody    string
	sendNoSave  bool
	sendReplyTo int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a personal message",
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := actor()
		if err != nil {
			return err
		}

		body := sendBody
		if body == "-" {
			data, err := readAll(cmd)
			if err != nil {
				return err
			}
			body = data
		}

		req := pm.SendRequest{
			To:          recipientRefs(sendTo),
			BCC:         recipientRefs(sendBCC),
			Subject:     sendSubject,
			Body:        body,
			StoreOutbox: !sendNoSave,
		}
		if sendReplyTo > 0 {
			heads, err := application.PM.GetDiscussions([]int{sendReplyTo})
			if err != nil {
				return err
			}
			head, ok := heads[sendReplyTo]
			if !ok {
				return fmt.Errorf("message %d not found", sendReplyTo)
			}
			req.ReplyHead = head
			req.ReplyTo = sendReplyTo
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dlog, err := application.PM.Send(ctx, sender, req)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if ok, err := printJSON(cmd, dlog); ok {
			return err
		}

		if dlog.MessageID > 0 {
			fmt.Printf("Message %d sent.\n", dlog.MessageID)
		}
		for _, name := range sortedNames(dlog.Sent) {
			fmt.Printf("  sent:   %s\n", name)
		}
		for id, reason := range dlog.Failed {
			fmt.Printf("  failed: #%d (%s)\n", id, reason)
		}
		for name, reason := range dlog.FailedNames {
			fmt.Printf("  failed: %s (%s)\n", name, reason)
		}
		return nil
	},
}

func recipientRefs(list string) []pm.RecipientRef {
	var refs []pm.RecipientRef
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		refs = append(refs, pm.ParseRecipient(part))
	}
	return refs
}

func sortedNames(m map[int]string) []string {
	names := make([]string, 0, len(m))
	for _, n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func readAll(cmd *cobra.Command) (string, error) {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Comma separated recipient names or ids")
	sendCmd.Flags().StringVar(&sendBCC, "bcc", "", "Comma separated blind copy recipients")
	sendCmd.Flags().StringVarP(&sendSubject, "subject", "s", "", "Subject")
	sendCmd.Flags().StringVarP(&sendBody, "body", "b", "", "Body (- reads standard input)")
	sendCmd.Flags().BoolVar(&sendNoSave, "no-outbox", false, "Do not keep a copy in the sent folder")
	sendCmd.Flags().IntVar(&sendReplyTo, "reply-to", 0, "Message id being answered")

	rootCmd.AddCommand(sendCmd)
}
