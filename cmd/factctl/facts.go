package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/factstore/internal/model"
)

type slotFlags struct {
	entityType string
	entityID   string
	factType   string
	key        string
}

func (f *slotFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.entityType, "entity-type", "", "person, organization, deal or conversation")
	cmd.Flags().StringVar(&f.entityID, "entity-id", "", "entity UUID")
	cmd.Flags().StringVar(&f.factType, "fact-type", "", "fact type, e.g. metric")
	cmd.Flags().StringVar(&f.key, "key", "", "fact key, e.g. mrr")
	for _, name := range []string{"entity-type", "entity-id", "fact-type", "key"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newAddCmd(sf *storeFlags) *cobra.Command {
	var (
		slot       slotFlags
		value      string
		source     string
		sourceID   string
		sourceURL  string
		createdBy  string
		confidence float64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a fact with conflict detection",
		Long: `Record a fact exactly as POST /v1/facts would: it is classified against the
slot's current fact as NEW, DUPLICATE, UPDATE or CONFLICT. A conflict writes
nothing and exits non-zero.

Example:
  factctl add --entity-type organization --entity-id 6f1c... \
    --fact-type metric --key mrr --value 50000 --source attio --confidence 0.9`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.AddFactRequest{
				EntityType: slot.entityType,
				EntityID:   slot.entityID,
				FactType:   slot.factType,
				Key:        slot.key,
				Value:      value,
				SourceType: source,
			}
			if sourceID != "" {
				req.SourceID = &sourceID
			}
			if sourceURL != "" {
				req.SourceURL = &sourceURL
			}
			if createdBy != "" {
				req.CreatedBy = &createdBy
			}
			if cmd.Flags().Changed("confidence") {
				req.Confidence = &confidence
			}
			in, err := req.ToInput()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, store, err := sf.openFacts(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			res, err := svc.AddFactWithConflictDetection(ctx, in)
			svc.WaitHooks()
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			if res.RequiresManualReview {
				return fmt.Errorf("escalated for manual review")
			}
			return nil
		},
	}
	slot.register(cmd)
	cmd.Flags().StringVar(&value, "value", "", "fact value")
	cmd.Flags().StringVar(&source, "source", "", "source type, e.g. attio")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "identifier within the source")
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "link to the source record")
	cmd.Flags().StringVar(&createdBy, "created-by", "factctl", "recorded author")
	cmd.Flags().Float64Var(&confidence, "confidence", model.DefaultConfidence, "confidence in [0, 1]")
	_ = cmd.MarkFlagRequired("value")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func printResult(w io.Writer, res model.AddFactResult) {
	label := classificationColor(res.Classification).Sprint(res.Classification)
	switch {
	case res.RequiresManualReview && res.Conflict != nil:
		c := res.Conflict
		fmt.Fprintf(w, "%s  %s (%s)\n", label, res.Resolution, c.Reason)
		if c.Existing != nil {
			fmt.Fprintf(w, "  existing  %q from %s at %.2f\n", c.Existing.Value, c.Existing.SourceType, c.Existing.Confidence)
		}
		fmt.Fprintf(w, "  incoming  %q from %s at %.2f\n", c.IncomingValue, c.IncomingSourceType, c.IncomingConfidence)
	case res.SupersededID != nil:
		fmt.Fprintf(w, "%s  %s  fact %s supersedes %s\n", label, res.Resolution, res.FactID, res.SupersededID)
	default:
		fmt.Fprintf(w, "%s  %s  fact %s\n", label, res.Resolution, res.FactID)
	}
}

func classificationColor(c model.Classification) *color.Color {
	switch c {
	case model.ClassificationNew:
		return color.New(color.FgGreen, color.Bold)
	case model.ClassificationUpdate:
		return color.New(color.FgCyan, color.Bold)
	case model.ClassificationConflict:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}

func newHistoryCmd(sf *storeFlags) *cobra.Command {
	var slot slotFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every fact recorded for a slot, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := model.ParseSubject(slot.entityType, slot.entityID)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, store, err := sf.openFacts(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			history, err := svc.History(ctx, model.Slot{Subject: subject, FactType: slot.factType, Key: slot.key})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(history) == 0 {
				fmt.Fprintln(out, "no facts recorded")
				return nil
			}

			current := color.New(color.FgGreen).SprintFunc()
			faint := color.New(color.Faint).SprintFunc()
			for _, f := range history {
				state := current("current")
				if !f.IsCurrent() {
					state = faint("until " + f.ValidUntil.UTC().Format(time.RFC3339))
				}
				fmt.Fprintf(out, "%s  %-24q %-14s %.2f  from %s  %s\n",
					f.ID, f.Value, f.SourceType, f.Confidence,
					f.ValidFrom.UTC().Format(time.RFC3339), state)
			}
			return nil
		},
	}
	slot.register(cmd)
	return cmd
}

func newRetireCmd(sf *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retire <fact-id>",
		Short: "Close a current fact without a replacement",
		Long: `Retire a current fact, leaving its slot empty. The fact stays in history.
Use this to remove a value recorded in error; producers correct values by
submitting an update instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid fact id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			svc, store, err := sf.openFacts(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			if err := svc.Retire(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retired %s\n", id)
			return nil
		},
	}
}
