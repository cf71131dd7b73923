package cli

import (
	"path/filepath"

	"github.com/go-i2p/go-darkstar/lib/config"
	"github.com/go-i2p/go-darkstar/lib/darkstar"
	"github.com/go-i2p/go-darkstar/lib/keys"
	"github.com/go-i2p/go-darkstar/lib/util"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// clientConfigName is written next to the keys for handing to clients.
const clientConfigName = "client.yaml"

func newKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a server static key pair and a matching client config",
		Args:  cobra.NoArgs,
		RunE:  runKeygen,
	}
	f := cmd.Flags()
	f.String("out", "", "output directory (default is $HOME/.darkstar)")
	f.String("name", keys.DefaultKeyName, "key file base name")
	f.String("server-address", "", "server host:port to put in the client config")
	f.Bool("force", false, "overwrite an existing key")
	return cmd
}

func runKeygen(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	name, _ := cmd.Flags().GetString("name")
	address, _ := cmd.Flags().GetString("server-address")
	force, _ := cmd.Flags().GetBool("force")
	if out == "" {
		out = config.BuildDarkStarDirPath()
	}

	pair, err := darkstar.GenerateKeyPair()
	if err != nil {
		return err
	}
	ks := keys.NewStaticKeyStore(out, name, pair)
	if util.CheckFileExists(ks.PrivateKeyPath()) && !force {
		return oops.Errorf("%s already exists, use --force to replace it", ks.PrivateKeyPath())
	}
	if err := ks.StoreKeys(); err != nil {
		return err
	}

	clientCfg := config.Defaults()
	clientCfg.Mode = config.ModeClient
	clientCfg.ServerPublicKey = ks.PublicKeyHex()
	if address != "" {
		clientCfg.ServerAddress = address
	}
	clientPath := filepath.Join(out, clientConfigName)
	if err := config.WriteConfigFile(clientPath, clientCfg); err != nil {
		return err
	}

	cmd.Printf("private key %s\n", ks.PrivateKeyPath())
	cmd.Printf("client config %s\n", clientPath)
	cmd.Println(ks.PublicKeyHex())
	return nil
}
