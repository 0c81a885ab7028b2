package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/regscope/regscope/internal/appdb"
	"github.com/regscope/regscope/internal/errors"
)

// historyOptions holds CLI flags for history.
type historyOptions struct {
	userID string
	limit  int
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "Show past queries and answers",
		Long: `List recent conversations, or show one conversation in full.

Examples:
  regscope history
  regscope history --user alice --limit 5
  regscope history 4e1f6f2a-8a9d-4a58-9f2d-1c2b3a4d5e6f`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd, root, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "local", "User ID to list conversations for")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum conversations to list")

	return cmd
}

func runHistory(ctx context.Context, cmd *cobra.Command, root *rootOptions, args []string, opts historyOptions) error {
	a, err := buildApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.close()

	if a.db == nil {
		return errors.Newf(errors.ErrCodeConfig, "history requires a configured database URL")
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return errors.Newf(errors.ErrCodeConfig, "invalid conversation ID %q", args[0])
		}
		conv, err := a.db.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		printConversation(out, conv)
		return nil
	}

	convs, err := a.db.ListConversations(ctx, opts.userID, opts.limit)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations recorded.")
		return nil
	}
	for _, conv := range convs {
		fmt.Fprintf(out, "%s  %s  %s\n", conv.ID, conv.UpdatedAt.Format("2006-01-02 15:04"), conv.Title)
	}
	return nil
}

func printConversation(out io.Writer, conv *appdb.Conversation) {
	fmt.Fprintf(out, "%s  %s\n", conv.ID, conv.Title)
	for _, msg := range conv.Messages {
		switch msg.Role {
		case appdb.RoleUser:
			fmt.Fprintf(out, "\n> %s\n", msg.Text)
			if msg.Address != "" {
				fmt.Fprintf(out, "  (address: %s)\n", msg.Address)
			}
		case appdb.RoleAssistant:
			fmt.Fprintf(out, "\n%s\n", msg.AnswerText)
			fmt.Fprintf(out, "\nConfidence: %s", msg.Confidence)
			if len(msg.Jurisdictions) > 0 {
				fmt.Fprintf(out, "  Jurisdictions: %s", strings.Join(msg.Jurisdictions, ", "))
			}
			fmt.Fprintln(out)
			for _, c := range msg.Citations {
				fmt.Fprintf(out, "  [%d] %s\n", c.Index, c.Citation)
			}
		}
	}
}
