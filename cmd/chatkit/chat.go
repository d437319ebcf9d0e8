package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	chatkit "github.com/acertax/chatkit"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// users
	usersJSON bool

	// groups list
	groupsListJSON bool

	// groups create
	groupsCreateMembers string

	// groups info
	groupsInfoJSON bool

	// history
	historyJSON bool

	// groups messages
	groupsMessagesJSON bool

	// unread
	unreadJSON bool
)

// ============================================================================
// users
// ============================================================================

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if usersJSON {
			return printJSON(users)
		}

		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			status := "offline"
			if u.Online {
				status = "online"
			}
			fmt.Printf("  %s: %s <%s> - %s\n", u.UID, chatkit.UserLabel(u), u.Email, status)
		}
		return nil
	},
}

// ============================================================================
// groups (parent command)
// ============================================================================

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage groups",
	Long:  "Create, list, inspect, and delete chat groups.",
}

// ============================================================================
// groups list
// ============================================================================

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		groups, err := client.ListGroups(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if groupsListJSON {
			return printJSON(groups)
		}

		if len(groups) == 0 {
			fmt.Println("No groups found.")
			return nil
		}

		for _, g := range groups {
			fmt.Printf("  %s: %s (%d members)\n", g.GroupID, g.Name, len(g.Members))
		}
		return nil
	},
}

// ============================================================================
// groups create
// ============================================================================

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		opts := &chatkit.CreateGroupOptions{Name: name}
		if groupsCreateMembers != "" {
			for _, m := range strings.Split(groupsCreateMembers, ",") {
				if m = strings.TrimSpace(m); m != "" {
					opts.Members = append(opts.Members, m)
				}
			}
		}

		groupID, err := client.CreateGroup(ctx, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Group created: %s\n", groupID)
		return nil
	},
}

// ============================================================================
// groups info
// ============================================================================

var groupsInfoCmd = &cobra.Command{
	Use:   "info <group-id>",
	Short: "Show group details and members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		detail, err := client.GroupDetail(ctx, groupID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if groupsInfoJSON {
			return printJSON(detail)
		}

		fmt.Printf("Group:      %s\n", detail.Name)
		fmt.Printf("ID:         %s\n", detail.GroupID)
		fmt.Printf("Created by: %s\n", detail.CreatedBy)
		fmt.Printf("Members:\n")
		for _, m := range detail.Members {
			fmt.Printf("  %s <%s>\n", m.UID, m.Email)
		}
		return nil
	},
}

// ============================================================================
// groups delete
// ============================================================================

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a group you created",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.DeleteGroup(ctx, groupID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Group %s deleted.\n", groupID)
		return nil
	},
}

// ============================================================================
// groups messages
// ============================================================================

var groupsMessagesCmd = &cobra.Command{
	Use:   "messages <group-id>",
	Short: "Show a group's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.HistoryGroup(ctx, groupID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if groupsMessagesJSON {
			return printJSON(msgs)
		}
		printMessages(msgs)
		return nil
	},
}

// ============================================================================
// groups send
// ============================================================================

var groupsSendCmd = &cobra.Command{
	Use:   "send <group-id> <message>",
	Short: "Send a message to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, message := args[0], args[1]
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		session := client.Realtime(&chatkit.RealtimeConfig{Token: cfg.Auth.Token})
		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer session.Disconnect()

		if err := session.JoinGroup(ctx, groupID); err != nil {
			return fmt.Errorf("join failed: %w", err)
		}
		if err := session.SendGroup(ctx, groupID, message); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Message sent to group %s\n", groupID)
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show the direct-message history with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.HistoryDM(ctx, userID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if historyJSON {
			return printJSON(msgs)
		}
		printMessages(msgs)
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <message>",
	Short: "Send a direct message to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, message := args[0], args[1]
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		session := client.Realtime(&chatkit.RealtimeConfig{Token: cfg.Auth.Token})
		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer session.Disconnect()

		if err := session.JoinDM(ctx, userID); err != nil {
			return fmt.Errorf("join failed: %w", err)
		}
		if err := session.SendDM(ctx, userID, message); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Message sent to %s\n", userID)
		return nil
	},
}

// ============================================================================
// unread
// ============================================================================

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show per-conversation unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		items, err := client.Unread(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if unreadJSON {
			return printJSON(items)
		}

		if len(items) == 0 {
			fmt.Println("No unread messages.")
			return nil
		}

		for _, it := range items {
			fmt.Printf("  %s: %d unread\n", it.ThreadID, it.Count)
		}
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <thread-id>",
	Short: "Mark a thread as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.MarkRead(ctx, threadID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Thread %s marked as read.\n", threadID)
		return nil
	},
}

// ============================================================================
// clear
// ============================================================================

var clearCmd = &cobra.Command{
	Use:   "clear <dm|group> <id>",
	Short: "Hide a conversation's history for your account",
	Long:  "Soft-delete a conversation: its existing messages stop showing up for you.\nThe other participants keep their copy.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id := args[0], args[1]
		client, _ := getClient()

		var key chatkit.ConversationKey
		switch kind {
		case chatkit.KindDM:
			key = chatkit.DMKey(id)
		case chatkit.KindGroup:
			key = chatkit.GroupKey(id)
		default:
			return fmt.Errorf("unknown conversation kind %q (valid: dm, group)", kind)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.DeleteChat(ctx, key); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Cleared %s.\n", key)
		return nil
	},
}

// ============================================================================
// logout
// ============================================================================

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the server session and forget the local token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Logout(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		cfg.Auth.Token = ""
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}

// ============================================================================
// Output helpers
// ============================================================================

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printMessages(msgs []chatkit.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages found.")
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", fmtTS(m.TS), m.FromUID, m.Text)
	}
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	// users
	usersCmd.Flags().BoolVar(&usersJSON, "json", false, "Output raw JSON")

	// groups list
	groupsListCmd.Flags().BoolVar(&groupsListJSON, "json", false, "Output raw JSON")

	// groups create
	groupsCreateCmd.Flags().StringVar(&groupsCreateMembers, "members", "", "Comma-separated list of member user IDs")

	// groups info
	groupsInfoCmd.Flags().BoolVar(&groupsInfoJSON, "json", false, "Output raw JSON")

	// groups messages
	groupsMessagesCmd.Flags().BoolVar(&groupsMessagesJSON, "json", false, "Output raw JSON")

	// history
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")

	// unread
	unreadCmd.Flags().BoolVar(&unreadJSON, "json", false, "Output raw JSON")

	// Wire up groups sub-commands.
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsCreateCmd)
	groupsCmd.AddCommand(groupsInfoCmd)
	groupsCmd.AddCommand(groupsDeleteCmd)
	groupsCmd.AddCommand(groupsMessagesCmd)
	groupsCmd.AddCommand(groupsSendCmd)

	// Register top-level commands.
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(unreadCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(logoutCmd)
}
