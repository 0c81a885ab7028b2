package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/regscope/regscope/internal/answer"
	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/geocode"
	"github.com/regscope/regscope/internal/llm"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	address        string
	userID         string
	conversationID string
	format         string // text, json
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a compliance question with cited regulations",
		Long: `Answer a question from the indexed regulations.

With --address, the question is scoped to the jurisdictions covering
that address (federal, state, county, city); without it, or when
geocoding fails, only federal regulations are searched.

Examples:
  regscope query "Do I need a permit to sell food from home?"
  regscope query "What are the signage rules?" --address "600 Travis St, Houston, TX"
  regscope query "Noise limits for bars?" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "Street address to scope jurisdictions")
	cmd.Flags().StringVar(&opts.userID, "user", "local", "User ID for conversation history")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "Existing conversation ID to append to")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, root *rootOptions, question string, opts queryOptions) error {
	a, err := buildApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.close()

	generator, err := llm.NewAnthropicGenerator(a.cfg.LLM)
	if err != nil {
		return err
	}

	req := answer.Request{
		Question: question,
		Address:  opts.address,
		UserID:   opts.userID,
	}
	if opts.conversationID != "" {
		id, err := uuid.Parse(opts.conversationID)
		if err != nil {
			return errors.Newf(errors.ErrCodeConfig, "invalid conversation ID %q", opts.conversationID)
		}
		req.ConversationID = id
	}

	p := answer.NewPipeline(
		geocode.NewCensusGeocoder(a.cfg.Geocoder),
		a.embedder, a.index, generator, a.db,
		a.cfg.Retrieval,
	)
	res, err := p.ProcessQuery(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(queryOutput(res))
	}

	fmt.Fprintln(out, res.Answer)
	fmt.Fprintf(out, "\nJurisdictions: %s\n", strings.Join(res.Jurisdictions, ", "))
	fmt.Fprintf(out, "Confidence: %s (%s)\n", res.Confidence.Level, res.Confidence.Reason)
	if len(res.Citations) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, c := range res.Citations {
			fmt.Fprintf(out, "  [%d] %s\n", c.Index, c.Citation)
		}
	}
	if res.QueryID != uuid.Nil {
		fmt.Fprintf(out, "\nQuery ID: %s\n", res.QueryID)
	}
	return nil
}

// queryOutput trims the result to the stable JSON surface.
func queryOutput(res *answer.QueryResult) map[string]any {
	out := map[string]any{
		"answer":        res.Answer,
		"summary":       res.Summary,
		"sections":      res.Sections,
		"jurisdictions": res.Jurisdictions,
		"citations":     res.Citations,
		"permits":       res.Permits,
		"confidence":    res.Confidence,
	}
	if res.QueryID != uuid.Nil {
		out["query_id"] = res.QueryID.String()
	}
	return out
}
