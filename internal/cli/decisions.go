package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/accessmind/internal/model"
	"github.com/rcliao/accessmind/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List journaled access decisions",
		Run:   runDecisions,
	}

	cmd.Flags().String("counterparty", "", "Filter by counterparty")
	cmd.Flags().String("category", "", "Filter by data category")
	cmd.Flags().Bool("denied", false, "Only denied decisions")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("reasons-only", false, "Only output counterparty and reason")

	RootCmd.AddCommand(cmd)
}

func runDecisions(cmd *cobra.Command, args []string) {
	counterparty, _ := cmd.Flags().GetString("counterparty")
	categoryStr, _ := cmd.Flags().GetString("category")
	denied, _ := cmd.Flags().GetBool("denied")
	limit, _ := cmd.Flags().GetInt("limit")
	reasonsOnly, _ := cmd.Flags().GetBool("reasons-only")

	category, err := model.ParseDataCategory(categoryStr)
	if err != nil {
		exitErr("decisions", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	recs, err := s.Decisions(cmd.Context(), store.DecisionFilter{
		Counterparty: counterparty,
		Category:     category,
		DeniedOnly:   denied,
		Limit:        limit,
	})
	if err != nil {
		exitErr("decisions", err)
	}

	if reasonsOnly {
		for _, r := range recs {
			fmt.Printf("%s\t%s\n", r.Decision.Counterparty, r.Decision.Reason)
		}
		return
	}

	printResult(recs)
}
