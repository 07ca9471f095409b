package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/graphfusion/internal/config"
	"github.com/felixgeelhaar/graphfusion/internal/credential"
)

var configReveal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a stored value such as openai.api_key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := getStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if credential.IsSecretKey(key) {
			cm, err := credential.NewManager()
			if err != nil {
				return err
			}
			if value, err = cm.Seal(value); err != nil {
				return err
			}
		}

		if err := s.SetConfig(key, value); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a stored value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := getStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		val, err := s.GetConfig(key)
		if err != nil {
			return err
		}
		if val == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(not set)")
			return nil
		}
		if credential.IsSealed(val) {
			cm, err := credential.NewManager()
			if err != nil {
				return err
			}
			if val, err = cm.Open(val); err != nil {
				return err
			}
			if !configReveal {
				val = credential.Mask(val)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Check a config file for errors and questionable settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		res := cfg.Validate()
		out := cmd.OutOrStdout()
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		if !res.Valid {
			return fmt.Errorf("%s is invalid", args[0])
		}
		fmt.Fprintln(out, "OK")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configValidateCmd)

	configGetCmd.Flags().BoolVar(&configReveal, "reveal", false, "Print secrets in the clear")
}
