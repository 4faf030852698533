package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/accessmind/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "record [details]",
		Short: "Record an interaction event",
		Long:  "Record an interaction event. Details can be a positional arg or piped via stdin.",
		Run:   runRecord,
	}

	cmd.Flags().StringP("kind", "k", "", "Event kind (required): request, access, sharing, breach, interaction, ...")
	cmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0,1]")
	cmd.Flags().Float64("emotional", 0.3, "Emotional weight in [0,1]")
	cmd.Flags().String("counterparty", "", "Counterparty identifier")
	cmd.Flags().String("category", "", "Data category: identity, financial, payment, biometric, location, browsing, social, custom")
	cmd.Flags().Float64("stability", -1, "Context stability in [0,1] (unset when negative)")
	cmd.Flags().String("environment", "", "Environment (default: current)")
	cmd.Flags().String("dispute", "", "Dispute identifier")
	cmd.Flags().String("stake-type", "", "Stake bucket for stake actions: security, service, data-validator, liquidity")
	cmd.Flags().Float64("stake-amount", 0, "Stake amount for stake actions")
	cmd.Flags().Duration("duration", 0, "Requested access duration")

	cmd.MarkFlagRequired("kind")

	RootCmd.AddCommand(cmd)
}

func runRecord(cmd *cobra.Command, args []string) {
	kindStr, _ := cmd.Flags().GetString("kind")
	importance, _ := cmd.Flags().GetFloat64("importance")
	emotional, _ := cmd.Flags().GetFloat64("emotional")
	counterparty, _ := cmd.Flags().GetString("counterparty")
	categoryStr, _ := cmd.Flags().GetString("category")
	stability, _ := cmd.Flags().GetFloat64("stability")
	environment, _ := cmd.Flags().GetString("environment")
	dispute, _ := cmd.Flags().GetString("dispute")
	stakeType, _ := cmd.Flags().GetString("stake-type")
	stakeAmount, _ := cmd.Flags().GetFloat64("stake-amount")
	duration, _ := cmd.Flags().GetDuration("duration")

	kind, err := model.ParseEventKind(kindStr)
	if err != nil {
		exitErr("record", err)
	}
	category, err := model.ParseDataCategory(categoryStr)
	if err != nil {
		exitErr("record", err)
	}

	// Details: positional arg first, then check stdin
	var details string
	if len(args) > 0 {
		details = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			details = string(b)
		}
	}

	in := model.EventInput{
		Kind:            kind,
		Importance:      importance,
		EmotionalWeight: emotional,
		Details:         strings.TrimSpace(details),
		Context: model.EventContext{
			Counterparty: counterparty,
			Category:     category,
			Environment:  environment,
			DisputeID:    dispute,
		},
		RequestedDuration: duration,
	}
	if stability >= 0 {
		in.Context.Stability = model.Stability(stability)
	}
	if stakeType != "" {
		in.Stake = &model.StakeDetail{Type: model.StakeType(stakeType), Amount: stakeAmount}
	} else if kind == model.KindStakeAction {
		exitErr("record", fmt.Errorf("--stake-type is required for stake actions"))
	}
	if err := in.Validate(); err != nil {
		exitErr("record", err)
	}

	withSession(cmd.Context(), "record", func(s *session) error {
		ev, err := s.engine.RecordEvent(cmd.Context(), in)
		if err != nil {
			return err
		}
		if ev.ID == "" {
			return fmt.Errorf("event recording is disabled (features.enhanced_memory)")
		}
		printResult(ev)
		return nil
	})
}
