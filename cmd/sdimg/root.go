package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ardnew/sdmsc/bridge"
	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/pkg/prof"
	"github.com/ardnew/sdmsc/sdcard"
	"github.com/ardnew/sdmsc/sdcard/cardsim"
)

// options are the flags shared by every command that opens an image.
type options struct {
	fs         afero.Fs
	cardType   string
	crc        bool
	packetSize int
	logLevel   string
	logFormat  string
	cpuProfile string
	memProfile string

	stopProfile func() error
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	opts := &options{fs: fs}

	root := &cobra.Command{
		Use:           "sdimg",
		Short:         "SD card image tool",
		Long:          "Create, inspect, read, write and serve SD card images through a simulated SPI-mode card",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := pkg.ParseLogLevel(opts.logLevel)
			if err != nil {
				return err
			}
			format, err := pkg.ParseLogFormat(opts.logFormat)
			if err != nil {
				return err
			}
			pkg.SetLogOutput(cmd.ErrOrStderr(), format)
			pkg.SetLogLevel(level)
			return opts.startProfile()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return opts.finishProfile()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cardType, "type", "sdhc", "card type: sd1|sd2|sdhc")
	flags.BoolVar(&opts.crc, "crc", false, "enable command and data CRC checking")
	flags.IntVar(&opts.packetSize, "packet-size", 64, "endpoint packet size in bytes (must divide 512)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text|json")
	flags.StringVar(&opts.cpuProfile, "cpu-profile", "", "write a CPU profile to `FILE` (builds with the profile tag)")
	flags.StringVar(&opts.memProfile, "mem-profile", "", "write a heap profile to `FILE` on exit (builds with the profile tag)")

	root.AddCommand(
		newCreateCommand(opts),
		newInfoCommand(opts),
		newReadCommand(opts),
		newWriteCommand(opts),
		newDumpCommand(opts),
		newServeCommand(opts),
		newExportCommand(opts),
	)
	return root
}

// open attaches a simulated card to the image and initializes a bridge on
// it. The returned function closes the image.
func (o *options) open(ctx context.Context, path string) (*bridge.Bridge, func() error, error) {
	cardType, err := sdcard.ParseCardType(o.cardType)
	if err != nil {
		return nil, nil, err
	}

	card, err := cardsim.Open(o.fs, path, cardsim.Config{Type: cardType})
	if err != nil {
		return nil, nil, err
	}

	b := bridge.New(card, bridge.WithCardOptions(sdcard.WithCRC(o.crc)))
	if err := b.Init(ctx); err != nil {
		card.Close()
		return nil, nil, fmt.Errorf("initialize %s: %w", path, err)
	}

	pkg.LogDebug(pkg.ComponentCLI, "image opened",
		"path", path,
		"type", cardType.String(),
		"blocks", b.BlockCount())

	return b, card.Close, nil
}

// startProfile begins CPU profiling into the --cpu-profile file.
func (o *options) startProfile() error {
	if o.cpuProfile == "" || !prof.Enabled {
		return nil
	}
	f, err := o.fs.Create(o.cpuProfile)
	if err != nil {
		return err
	}
	stop, err := prof.StartCPU(f)
	if err != nil {
		f.Close()
		return err
	}
	o.stopProfile = func() error {
		stop()
		return f.Close()
	}
	pkg.LogDebug(pkg.ComponentCLI, "cpu profile started", "path", o.cpuProfile)
	return nil
}

// finishProfile stops a profile begun by startProfile and writes the
// --mem-profile heap snapshot.
func (o *options) finishProfile() error {
	if o.stopProfile != nil {
		stop := o.stopProfile
		o.stopProfile = nil
		if err := stop(); err != nil {
			return err
		}
	}
	if o.memProfile == "" || !prof.Enabled {
		return nil
	}

	f, err := o.fs.Create(o.memProfile)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := prof.Snapshot(prof.ProfileHeap, f, 0); err != nil {
		f.Close()
		return err
	}
	pkg.LogDebug(pkg.ComponentCLI, "heap profile written", "path", o.memProfile)
	return f.Close()
}

// parseSize parses a byte count with an optional k, m or g suffix.
func parseSize(s string) (int64, error) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(ss, "k"):
		mult = 1 << 10
		ss = strings.TrimSuffix(ss, "k")
	case strings.HasSuffix(ss, "m"):
		mult = 1 << 20
		ss = strings.TrimSuffix(ss, "m")
	case strings.HasSuffix(ss, "g"):
		mult = 1 << 30
		ss = strings.TrimSuffix(ss, "g")
	}
	n, err := strconv.ParseInt(ss, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// signalContext returns the command context, canceled on interrupt.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}
