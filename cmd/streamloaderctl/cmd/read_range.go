package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/javi11/streamloader/internal/audiofile"
)

var readRangeOut string

var readRangeCmd = &cobra.Command{
	Use:   "read-range <source-file> <start> <length>",
	Short: "Seek to start and read length bytes from a simulated remote audio file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("streamloaderctl read-range: read source: %w", err)
		}

		start, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("streamloaderctl read-range: invalid start: %w", err)
		}
		length, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("streamloaderctl read-range: invalid length: %w", err)
		}

		fake, fid := newFakeSessionFromConfig(data)

		af, err := audiofile.Open(context.Background(), fake, fid, sessionRate(), false,
			audiofile.WithFS(afero.NewOsFs()),
			audiofile.WithTuning(cfg.Tuning.ToTuning()),
			audiofile.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("streamloaderctl read-range: open: %w", err)
		}
		defer af.Close()

		if _, err := af.Seek(start, 0); err != nil {
			return fmt.Errorf("streamloaderctl read-range: seek: %w", err)
		}

		buf := make([]byte, length)
		n, err := af.Read(buf)
		if err != nil && n == 0 {
			return fmt.Errorf("streamloaderctl read-range: read: %w", err)
		}

		out := os.Stdout
		if readRangeOut != "" {
			f, ferr := os.Create(readRangeOut)
			if ferr != nil {
				return fmt.Errorf("streamloaderctl read-range: open output: %w", ferr)
			}
			defer f.Close()
			out = f
		}
		_, werr := out.Write(buf[:n])
		return werr
	},
}

func init() {
	readRangeCmd.Flags().StringVar(&readRangeOut, "out", "", "write the bytes read to this file instead of stdout")
	rootCmd.AddCommand(readRangeCmd)
}
