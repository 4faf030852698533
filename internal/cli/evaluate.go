package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/accessmind/internal/decision"
	"github.com/rcliao/accessmind/internal/model"
)

func init() {
	evaluate := &cobra.Command{
		Use:   "evaluate",
		Short: "Decide an access request",
		Run:   runEvaluate,
	}
	addRequestFlags(evaluate)
	RootCmd.AddCommand(evaluate)

	negotiate := &cobra.Command{
		Use:   "negotiate",
		Short: "Decide an access request and weigh an offered fee",
		Long:  "Decide an access request and weigh an offered fee. Offers below the fair fee get a counter-offer.",
		Run:   runNegotiate,
	}
	addRequestFlags(negotiate)
	negotiate.Flags().Float64("offered", 0, "Offered fee (required)")
	negotiate.MarkFlagRequired("offered")
	RootCmd.AddCommand(negotiate)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().String("counterparty", "", "Requesting counterparty (required)")
	cmd.Flags().String("category", "", "Requested data category (required)")
	cmd.Flags().Duration("duration", time.Hour, "Requested access duration")
	cmd.MarkFlagRequired("counterparty")
	cmd.MarkFlagRequired("category")
}

func requestFromFlags(cmd *cobra.Command) decision.Request {
	counterparty, _ := cmd.Flags().GetString("counterparty")
	categoryStr, _ := cmd.Flags().GetString("category")
	duration, _ := cmd.Flags().GetDuration("duration")

	category, err := model.ParseDataCategory(categoryStr)
	if err != nil {
		exitErr(cmd.Name(), err)
	}
	req := decision.Request{Counterparty: counterparty, Category: category, Duration: duration}
	if err := req.Validate(); err != nil {
		exitErr(cmd.Name(), err)
	}
	return req
}

func runEvaluate(cmd *cobra.Command, args []string) {
	req := requestFromFlags(cmd)

	withSession(cmd.Context(), "evaluate", func(s *session) error {
		d, err := s.engine.EvaluateAccess(cmd.Context(), req)
		if err != nil {
			return err
		}
		rec, err := s.store.RecordDecision(cmd.Context(), d, nil, nil)
		if err != nil {
			return err
		}
		printResult(rec)
		return nil
	})
}

type negotiationResult struct {
	ID                string `json:"id" yaml:"id"`
	model.Negotiation `yaml:",inline"`
}

func runNegotiate(cmd *cobra.Command, args []string) {
	req := requestFromFlags(cmd)
	offered, _ := cmd.Flags().GetFloat64("offered")
	if err := decision.ValidateOffer(offered); err != nil {
		exitErr("negotiate", err)
	}

	withSession(cmd.Context(), "negotiate", func(s *session) error {
		n, err := s.engine.Negotiate(cmd.Context(), req, offered)
		if err != nil {
			return err
		}
		rec, err := s.store.RecordDecision(cmd.Context(), n.Decision, &n, &offered)
		if err != nil {
			return err
		}
		printResult(negotiationResult{ID: rec.ID, Negotiation: n})
		return nil
	})
}
