// Package cli implements the darkstar command: an echo server that speaks
// the DarkStar transport, a matching client, and key generation.
package cli

import (
	"github.com/go-i2p/go-darkstar/lib/config"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand builds the darkstar command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "darkstar",
		Short:         "Obfuscated point-to-point transport",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// keygen only writes files and needs no loaded config
			if cmd.Name() == "keygen" {
				return nil
			}
			return config.InitConfig()
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default is $HOME/.darkstar/config.yaml)")

	root.AddCommand(
		newServerCommand(),
		newClientCommand(),
		newKeygenCommand(),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// bindFlags ties command flags to config keys so a flag that is set wins
// over the file and environment.
func bindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return oops.Wrapf(err, "binding --%s", flag)
		}
	}
	return nil
}
