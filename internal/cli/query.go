package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// queryCmd builds a read-only command that prints one engine view.
func queryCmd(use, short string, view func(ctx context.Context, s *session) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			withSession(cmd.Context(), use, func(s *session) error {
				v, err := view(cmd.Context(), s)
				if err != nil {
					return err
				}
				printResult(v)
				return nil
			})
		},
	}
}

func init() {
	RootCmd.AddCommand(
		queryCmd("patterns", "List detected patterns, highest confidence first",
			func(ctx context.Context, s *session) (any, error) { return s.engine.Patterns(ctx) }),
		queryCmd("status", "Show engine status and self-model",
			func(ctx context.Context, s *session) (any, error) { return s.engine.Status(ctx) }),
		queryCmd("forecast", "Show weekly activity cycles and forecast scenarios",
			func(ctx context.Context, s *session) (any, error) { return s.engine.Temporal(ctx) }),
		queryCmd("recommend", "List ranked recommendations",
			func(ctx context.Context, s *session) (any, error) { return s.engine.Recommendations(ctx) }),
		queryCmd("threats", "List current threats",
			func(ctx context.Context, s *session) (any, error) { return s.engine.Threats(ctx) }),
		queryCmd("optimize", "Show optimized per-category policy and stake allocation",
			func(ctx context.Context, s *session) (any, error) { return s.engine.OptimizeSettings(ctx) }),
		queryCmd("self", "Show the self-model, running one consolidation cycle first",
			func(ctx context.Context, s *session) (any, error) {
				if err := s.engine.Consolidate(ctx); err != nil {
					return nil, err
				}
				return s.engine.SelfModel(ctx)
			}),
	)

	knowledge := &cobra.Command{
		Use:   "knowledge",
		Short: "Show the cross-environment knowledge hierarchy",
		Args:  cobra.NoArgs,
		Run:   runKnowledge,
	}
	knowledge.Flags().Bool("low", false, "List per-environment entries instead of the summary")
	RootCmd.AddCommand(knowledge)
}

func runKnowledge(cmd *cobra.Command, args []string) {
	low, _ := cmd.Flags().GetBool("low")

	withSession(cmd.Context(), "knowledge", func(s *session) error {
		if low {
			entries, err := s.engine.LowLevelKnowledge(cmd.Context())
			if err != nil {
				return err
			}
			printResult(entries)
			return nil
		}
		k, err := s.engine.Knowledge(cmd.Context())
		if err != nil {
			return err
		}
		printResult(k)
		return nil
	})
}
