package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/accessmind/internal/model"
)

func init() {
	transition := &cobra.Command{
		Use:   "transition <environment>",
		Short: "Switch the current environment",
		Long: "Switch the current environment. Knowledge specific to dissimilar environments decays. " +
			"Pass --feature/--protection to register or replace the target environment's profile first.",
		Args: cobra.ExactArgs(1),
		Run:  runTransition,
	}
	transition.Flags().StringToString("feature", nil, "Profile feature weights, e.g. --feature security=0.8,staking=0.4")
	transition.Flags().StringSlice("hazard", nil, "Profile hazards")
	transition.Flags().Float64("protection", -1, "Profile protection level in [0,1]")
	RootCmd.AddCommand(transition)

	protect := &cobra.Command{
		Use:   "protect <on|off>",
		Short: "Enable or disable automatic protection",
		Args:  cobra.ExactArgs(1),
		Run:   runProtect,
	}
	RootCmd.AddCommand(protect)
}

func runTransition(cmd *cobra.Command, args []string) {
	features, _ := cmd.Flags().GetStringToString("feature")
	hazards, _ := cmd.Flags().GetStringSlice("hazard")
	protection, _ := cmd.Flags().GetFloat64("protection")

	var profile *model.EnvironmentProfile
	if len(features) > 0 || len(hazards) > 0 || protection >= 0 {
		profile = &model.EnvironmentProfile{
			Name:            args[0],
			Features:        map[string]float64{},
			Hazards:         hazards,
			ProtectionLevel: 0.5,
		}
		if protection >= 0 {
			profile.ProtectionLevel = protection
		}
		for k, v := range features {
			w, err := strconv.ParseFloat(v, 64)
			if err != nil {
				exitErr("transition", fmt.Errorf("feature %s: %w", k, err))
			}
			profile.Features[k] = w
		}
	}

	withSession(cmd.Context(), "transition", func(s *session) error {
		if profile != nil {
			if err := s.engine.RegisterEnvironment(cmd.Context(), *profile); err != nil {
				return err
			}
		}
		rep, err := s.engine.TransitionEnvironment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(rep)
		return nil
	})
}

func runProtect(cmd *cobra.Command, args []string) {
	var enabled bool
	switch args[0] {
	case "on", "enable", "true":
		enabled = true
	case "off", "disable", "false":
	default:
		exitErr("protect", fmt.Errorf("expected on or off, got %q", args[0]))
	}

	withSession(cmd.Context(), "protect", func(s *session) error {
		if err := s.engine.SetAutoProtection(cmd.Context(), enabled); err != nil {
			return err
		}
		st, err := s.engine.Status(cmd.Context())
		if err != nil {
			return err
		}
		printResult(map[string]any{"ok": true, "auto_protection": st.AutoProtection})
		return nil
	})
}
