package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDispenseCmd posts the next question to one chat, or to every target.
func NewDispenseCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dispense [chat-id]",
		Short: "Post the next question now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if len(args) == 1 {
				chatID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("chat id %q: %w", args[0], err)
				}
				index, err := rt.service.Dispense(cmd.Context(), chatID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted question %d to %d\n", index, chatID)
				return nil
			}
			results, err := rt.service.DispenseAll(cmd.Context())
			for _, r := range results {
				if r.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%d: failed: %s\n", r.ChatID, r.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d: posted question %d\n", r.ChatID, r.Item)
			}
			return err
		},
	}
}

// NewResetRotationCmd clears rotation cursors.
func NewResetRotationCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-rotation [target]",
		Short: "Restart the rotation from the first question for one or all targets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			n, err := rt.service.ResetRotation(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d target(s)\n", n)
			return nil
		},
	}
}

// NewDedupeCmd removes repeated questions from the stored collection.
func NewDedupeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			removed, err := rt.service.Deduplicate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d duplicate(s)\n", removed)
			return nil
		},
	}
}

// NewIntegrityCmd prints the integrity report as JSON and fails when issues exist.
func NewIntegrityCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Check stored shards and questions for inconsistencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.service.CheckIntegrity(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%d integrity issue(s)", len(report.Issues))
			}
			return nil
		},
	}
}

// NewIngestCmd loads questions from a JSON, JSON lines or CSV file.
func NewIngestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Add questions from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := rt.service.Ingest(cmd.Context(), raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "format=%s added=%d duplicates=%d invalid=%d total=%d\n",
				res.Format, res.Added, res.SkippedDuplicates, len(res.Invalid), res.TotalAfter)
			for _, ve := range res.Invalid {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", ve.Error())
			}
			return nil
		},
	}
}
