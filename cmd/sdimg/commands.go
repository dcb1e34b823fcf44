package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ardnew/sdmsc/bridge/endpoint"
	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/sdcard"
	"github.com/ardnew/sdmsc/sdcard/cardid"
	"github.com/ardnew/sdmsc/sdcard/cardsim"
)

func newCreateCommand(opts *options) *cobra.Command {
	var size string

	cmd := &cobra.Command{
		Use:   "create IMAGE",
		Short: "Create a zero-filled card image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseSize(size)
			if err != nil {
				return err
			}
			if n%sdcard.SectorSize != 0 {
				return fmt.Errorf("size must be a multiple of %d", sdcard.SectorSize)
			}
			blocks := n / sdcard.SectorSize
			if blocks > math.MaxUint32 {
				return fmt.Errorf("size %s exceeds %d sectors", size, uint32(math.MaxUint32))
			}
			if err := cardsim.CreateImage(opts.fs, args[0], uint32(blocks)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sectors\n", args[0], blocks)
			return nil
		},
	}

	cmd.Flags().StringVar(&size, "size", "32m", "image size (e.g. 512k, 32m, 2g)")
	return cmd
}

func newInfoCommand(opts *options) *cobra.Command {
	var idDB string

	cmd := &cobra.Command{
		Use:   "info IMAGE",
		Short: "Initialize the card and print its registers",
		Args:  cobra.ExactArgs(1),
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

			card := b.Card()
			cid, err := card.ReadCID()
			if err != nil {
				return err
			}
			csd, err := card.ReadCSD()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Type:         %s\n", card.Type())
			fmt.Fprintf(w, "Blocks:       %d\n", b.BlockCount())
			fmt.Fprintf(w, "Capacity:     %d bytes\n", uint64(b.BlockCount())*sdcard.SectorSize)
			fmt.Fprintf(w, "Manufacturer: %s\n", ids.Describe(cid.ManufacturerID))
			if name := ids.LookupOEM(cid.ManufacturerID, cid.OEMID); name != "" {
				fmt.Fprintf(w, "OEM:          %s (%s)\n", cid.OEMID, name)
			} else {
				fmt.Fprintf(w, "OEM:          %s\n", cid.OEMID)
			}
			fmt.Fprintf(w, "Product:      %s rev %s\n", cid.ProductName, cid.RevisionString())
			fmt.Fprintf(w, "Serial:       0x%08X\n", cid.SerialNumber)
			fmt.Fprintf(w, "Date:         %d-%02d\n", cid.Year, cid.Month)
			fmt.Fprintf(w, "CSD:          % X\n", csd[:])
			return nil
		},
	}

	cmd.Flags().StringVar(&idDB, "id-db", "", "manufacturer ID database in usb.ids layout")
	return cmd
}

func newReadCommand(opts *options) *cobra.Command {
	var (
		block uint32
		count uint16
		out   string
	)

	cmd := &cobra.Command{
		Use:   "read IMAGE",
		Short: "Read blocks through an IN endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			b, closeImage, err := opts.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := opts.fs.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			in, err := endpoint.NewIn(endpoint.WithPacketSize(opts.packetSize))
			if err != nil {
				return err
			}
			return endpoint.Collect(ctx, in, int(count)*sdcard.SectorSize, w, func(ctx context.Context) error {
				return b.ReadBlocks(ctx, in, block, count)
			})
		},
	}

	cmd.Flags().Uint32Var(&block, "block", 0, "first logical block")
	cmd.Flags().Uint16Var(&count, "count", 1, "number of blocks")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}

func newWriteCommand(opts *options) *cobra.Command {
	var (
		block uint32
		input string
	)

	cmd := &cobra.Command{
		Use:   "write IMAGE",
		Short: "Write a file to blocks through an OUT endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return errors.New("--in is required")
			}
			data, err := afero.ReadFile(opts.fs, input)
			if err != nil {
				return err
			}
			if pad := len(data) % sdcard.SectorSize; pad != 0 {
				data = append(data, bytes.Repeat([]byte{0}, sdcard.SectorSize-pad)...)
			}
			blocks := len(data) / sdcard.SectorSize
			if blocks == 0 || blocks > math.MaxUint16 {
				return fmt.Errorf("%w: %s spans %d blocks", pkg.ErrInvalidParameter, input, blocks)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			b, closeImage, err := opts.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			out, err := endpoint.NewOut(endpoint.WithPacketSize(opts.packetSize))
			if err != nil {
				return err
			}
			err = endpoint.Feed(ctx, out, data, func(ctx context.Context) error {
				return b.WriteBlocks(ctx, out, block, uint16(blocks))
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d blocks at %d\n", blocks, block)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&block, "block", 0, "first logical block")
	cmd.Flags().StringVar(&input, "in", "", "input file, zero-padded to a whole block")
	return cmd
}

func newDumpCommand(opts *options) *cobra.Command {
	var block uint32

	cmd := &cobra.Command{
		Use:   "dump IMAGE",
		Short: "Print a hex listing of one block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			b, closeImage, err := opts.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			if block >= b.BlockCount() {
				return fmt.Errorf("%w: block %d beyond %d", pkg.ErrInvalidAddress, block, b.BlockCount())
			}
			return b.Card().DumpSector(cmd.OutOrStdout(), uint64(block)*sdcard.SectorSize)
		},
	}

	cmd.Flags().Uint32Var(&block, "block", 0, "logical block")
	return cmd
}
