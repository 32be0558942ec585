package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/selection"
	"github.com/spf13/cobra"
)

var (
	conversationsUnread bool
	messagesLimit       int
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp struct {
			Conversations []api.ConversationView `json:"conversations"`
		}
		if err := c.get(ctx, "/conversations", nil, &resp); err != nil {
			return err
		}
		views := resp.Conversations
		if conversationsUnread {
			filtered := views[:0]
			for _, v := range views {
				if v.UnreadCount > 0 {
					filtered = append(filtered, v)
				}
			}
			views = filtered
		}

		if jsonOutput {
			return outputJSON(views)
		}
		if len(views) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, v := range views {
			marker := " "
			if v.Active {
				marker = "*"
			}
			preview := ""
			if v.Last != nil {
				preview = v.Last.Preview(50)
			}
			status := ""
			switch {
			case v.Typing:
				status = " (typing)"
			case v.Online:
				status = " (online)"
			}
			fmt.Printf("%s %-24s %3d  %s%s\n", marker, v.DisplayName, v.UnreadCount, preview, status)
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <contact-id>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp struct {
			Messages []chat.Message `json:"messages"`
		}
		if err := c.get(ctx, "/conversations/"+args[0]+"/messages", nil, &resp); err != nil {
			return err
		}
		msgs := resp.Messages
		if messagesLimit > 0 && len(msgs) > messagesLimit {
			msgs = msgs[len(msgs)-messagesLimit:]
		}

		if jsonOutput {
			return outputJSON(msgs)
		}
		for _, m := range msgs {
			printMessage(m, args[0])
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <contact-id> <text...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		body := map[string]string{"content": strings.Join(args[1:], " ")}
		var m chat.Message
		if err := c.do(ctx, "POST", "/conversations/"+args[0]+"/messages", body, &m); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(m)
		}
		fmt.Printf("Queued %s (%s)\n", m.ID, m.State)
		return nil
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <contact-id>",
	Short: "Open a conversation and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var batch selection.Batch
		if err := c.do(ctx, "POST", "/conversations/"+args[0]+"/select", nil, &batch); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(batch)
		}
		fmt.Printf("Selected %s, %d message(s) marked read\n", batch.ContactID, len(batch.MessageIDs))
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <temp-id>",
	Short: "Resend a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var m chat.Message
		if err := c.do(ctx, "POST", "/messages/"+args[0]+"/retry", nil, &m); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(m)
		}
		fmt.Printf("Requeued as %s\n", m.ID)
		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <temp-id>",
	Short: "Drop a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.do(ctx, "DELETE", "/messages/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("Discarded %s\n", args[0])
		return nil
	},
}

func printMessage(m chat.Message, contactID string) {
	who := contactID
	if m.SenderID != contactID {
		who = "me"
	}
	flag := ""
	switch {
	case m.State == chat.Pending:
		flag = " [sending]"
	case m.State == chat.Failed:
		flag = " [failed: " + m.ID + "]"
	case who == "me" && m.ReadByPeer:
		flag = " [read]"
	}
	fmt.Printf("%s  %-8s %s%s\n", m.CreatedAt.Local().Format("Jan 02 15:04"), who, m.Preview(200), flag)
}

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsUnread, "unread", false, "only conversations with unread messages")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 50, "show at most this many recent messages (0 = all)")

	rootCmd.AddCommand(conversationsCmd, messagesCmd, sendCmd, selectCmd, retryCmd, discardCmd)
}
