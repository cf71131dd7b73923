package main

import (
	"os"

	"github.com/go-i2p/go-darkstar/lib/cli"
	"github.com/go-i2p/go-darkstar/lib/util/signals"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("darkstar failed")
		os.Exit(1)
	}
}

func run() error {
	go signals.Handle()
	defer signals.StopHandle()
	return cli.Execute()
}
