package cli

import (
	"io"
	"time"

	"github.com/go-i2p/go-darkstar/lib/config"
	"github.com/go-i2p/go-darkstar/lib/keys"
	"github.com/go-i2p/go-darkstar/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

const defaultDialTimeout = 15 * time.Second

func newClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send a message through a DarkStar server and print the echo",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"server_address":    "server",
				"server_public_key": "key",
			})
		},
		RunE: runClient,
	}
	f := cmd.Flags()
	f.String("server", "", "server IPv4 host:port")
	f.String("key", "", "server public key (64 hex characters)")
	f.String("message", "hello darkstar", "message to send")
	f.Duration("timeout", defaultDialTimeout, "connect and handshake timeout")
	return cmd
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg := config.CurrentConfig()
	cfg.Mode = config.ModeClient
	if err := config.Validate(cfg); err != nil {
		return err
	}
	serverKey, err := keys.DecodePublicKey(cfg.ServerPublicKey)
	if err != nil {
		return err
	}
	message, _ := cmd.Flags().GetString("message")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if message == "" {
		return oops.Errorf("--message must not be empty")
	}

	dialer := &transport.Dialer{ServerPublicKey: serverKey, Timeout: timeout}
	conn, err := dialer.DialContext(cmd.Context(), cfg.ServerAddress)
	if err != nil {
		return err
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write([]byte(message)); err != nil {
		return err
	}
	reply := make([]byte, len(message))
	if _, err := io.ReadFull(conn, reply); err != nil {
		return oops.Wrapf(err, "reading echo")
	}

	log.WithFields(logger.Fields{
		"at":      "runClient",
		"conn_id": conn.ID(),
		"server":  cfg.ServerAddress,
		"bytes":   len(reply),
	}).Debug("echo received")
	cmd.Println(string(reply))
	return nil
}
