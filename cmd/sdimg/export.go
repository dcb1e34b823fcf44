package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/sdmsc/bridge"
	"github.com/ardnew/sdmsc/pkg"
)

// exportChunk is the number of blocks moved per Storage read.
const exportChunk = 64

func newExportCommand(opts *options) *cobra.Command {
	var (
		block uint64
		count uint64
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export IMAGE",
		Short: "Copy blocks out through the mass-storage backend",
		Long: `Copy blocks out of the card through the mass-storage Storage backend,
the interface a USB MSC class driver reads from. A zero --count copies
every block from --block to the end of the card.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			b, closeImage, err := opts.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			disk := bridge.NewDisk(b)
			if !disk.IsPresent() {
				return pkg.ErrNoMedium
			}
			total := disk.BlockCount()
			if block >= total {
				return fmt.Errorf("%w: block %d beyond %d", pkg.ErrInvalidAddress, block, total)
			}
			if count == 0 {
				count = total - block
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := opts.fs.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			buf := make([]byte, exportChunk*disk.BlockSize())
			for lba, end := block, block+count; lba < end; {
				if err := ctx.Err(); err != nil {
					return err
				}
				n := uint32(min(end-lba, exportChunk))
				got, err := disk.Read(lba, n, buf)
				if err != nil {
					return err
				}
				if _, err := w.Write(buf[:got*disk.BlockSize()]); err != nil {
					return err
				}
				lba += uint64(got)
			}

			pkg.LogInfo(pkg.ComponentCLI, "export complete",
				"start", block,
				"blocks", count)
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d blocks from %d\n", count, block)
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&block, "block", 0, "first logical block")
	cmd.Flags().Uint64Var(&count, "count", 0, "number of blocks (0 for the rest of the card)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}
