package main

import (
	"github.com/spf13/cobra"

	"github.com/ardnew/sdmsc/sdcard/cardid"
	"github.com/ardnew/sdmsc/server"
)

func newServeCommand(opts *options) *cobra.Command {
	var (
		addr      string
		depth     int
		accessLog bool
		idDB      string
	)

	cmd := &cobra.Command{
		Use:   "serve IMAGE",
		Short: "Serve the image's blocks over HTTP",
		Long: `Serve the image's blocks over HTTP until interrupted.

Routes:
  GET  /info                    card type, capacity and CID
  POST /init                    re-initialize the card
  GET  /blocks/{start}?count=N  read N blocks
  PUT  /blocks/{start}          write the request body (whole blocks)
  GET  /metrics                 Prometheus metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			b, closeImage, err := opts.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			ids := cardid.New()
			if idDB != "" {
				if err := ids.Load(opts.fs, idDB); err != nil {
					return err
				}
			}

			serverOpts := []server.Option{
				server.WithPacketSize(opts.packetSize),
				server.WithDepth(depth),
				server.WithCardIDs(ids),
			}
			if accessLog {
				serverOpts = append(serverOpts, server.WithAccessLog(cmd.ErrOrStderr()))
			}
			return server.New(b, serverOpts...).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "listen address")
	cmd.Flags().IntVar(&depth, "depth", 2, "endpoint queue depth in packets")
	cmd.Flags().StringVar(&idDB, "id-db", "", "manufacturer ID database in usb.ids layout")
	cmd.Flags().BoolVar(&accessLog, "access-log", true, "write combined-format access log to stderr")
	return cmd
}
