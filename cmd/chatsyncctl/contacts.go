package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/hako/durafmt"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/spf13/cobra"
)

var (
	searchContact string
	searchLimit   int
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List known contacts with their presence",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp struct {
			Contacts []presence.Contact `json:"contacts"`
		}
		if err := c.get(ctx, "/contacts", nil, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(resp.Contacts)
		}
		for _, ct := range resp.Contacts {
			name := ct.DisplayName
			if name == "" {
				name = ct.ID
			}
			fmt.Printf("%-24s %-20s %s\n", ct.ID, name, presenceLabel(ct))
		}
		return nil
	},
}

var presenceCmd = &cobra.Command{
	Use:   "presence <contact-id>",
	Short: "Show whether a contact is online or typing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var ct presence.Contact
		if err := c.get(ctx, "/contacts/"+url.PathEscape(args[0])+"/presence", nil, &ct); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(ct)
		}
		fmt.Printf("%s: %s\n", ct.ID, presenceLabel(ct))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the message cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		q := url.Values{"q": {args[0]}, "limit": {strconv.Itoa(searchLimit)}}
		if searchContact != "" {
			q.Set("contact_id", searchContact)
		}
		var resp struct {
			Results []api.SearchHit `json:"results"`
		}
		if err := c.get(ctx, "/search", q, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(resp.Results)
		}
		if len(resp.Results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, hit := range resp.Results {
			fmt.Printf("%-20s %s  %s\n", hit.ContactID, hit.Message.CreatedAt.Local().Format("Jan 02 15:04"), hit.Snippet)
		}
		return nil
	},
}

func presenceLabel(c presence.Contact) string {
	switch {
	case c.Typing:
		return "typing..."
	case c.Online:
		return "online"
	case c.LastSeen.IsZero():
		return "offline"
	}
	ago := time.Since(c.LastSeen).Truncate(time.Minute)
	if ago < time.Minute {
		return "last seen just now"
	}
	return "last seen " + durafmt.Parse(ago).LimitFirstN(2).String() + " ago"
}

func init() {
	searchCmd.Flags().StringVar(&searchContact, "contact", "", "restrict to one conversation")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum number of results")

	rootCmd.AddCommand(contactsCmd, presenceCmd, searchCmd)
}
