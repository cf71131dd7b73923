package cli

import (
	"errors"

	"github.com/go-i2p/go-darkstar/lib/config"
	"github.com/go-i2p/go-darkstar/lib/util"
	"github.com/go-i2p/go-darkstar/lib/util/signals"
	"github.com/spf13/cobra"
)

func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the DarkStar echo server",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"listen_address":          "listen",
				"server_address":          "server-address",
				"server_private_key_file": "key-file",
				"bloom.path":              "bloom-path",
				"blackhole.timeout":       "blackhole-timeout",
			})
		},
		RunE: runServer,
	}
	f := cmd.Flags()
	f.String("listen", "", "address to listen on")
	f.String("server-address", "", "public IPv4 host:port clients dial (derived from --listen when empty)")
	f.String("key-file", "", "server private key file")
	f.String("bloom-path", "", "replay filter file")
	f.Duration("blackhole-timeout", 0, "how long failed connections are held open")
	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.CurrentConfig()
	cfg.Mode = config.ModeServer

	ctx := cmd.Context()
	srv, err := NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	util.RegisterCloser(srv)
	cmd.Printf("listening on %s\npublic key %s\n", srv.Addr(), srv.PublicKey())

	ids := []signals.HandlerID{
		signals.RegisterReloadHandler(srv.Reload),
		signals.RegisterPreShutdownHandler(func() {
			if err := srv.StopAccepting(); err != nil {
				log.WithError(err).Warn("stopping listener")
			}
		}),
		signals.RegisterInterruptHandler(func() {
			if err := util.CloseAll(); err != nil {
				log.WithError(err).Warn("shutdown finished with errors")
			}
		}),
	}
	defer func() {
		signals.DeregisterReloadHandler(ids[0])
		signals.DeregisterPreShutdownHandler(ids[1])
		signals.DeregisterInterruptHandler(ids[2])
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = srv.Close()
		case <-stop:
		}
	}()

	serveErr := srv.Serve()
	return errors.Join(serveErr, srv.Close())
}
