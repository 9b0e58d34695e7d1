package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/javi11/streamloader/internal/audiofile"
)

var openPlayFromBeginning bool

var openCmd = &cobra.Command{
	Use:   "open <source-file>",
	Short: "Open a local file as a simulated remote audio file and report its size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("streamloaderctl open: read source: %w", err)
		}

		fake, fid := newFakeSessionFromConfig(data)

		af, err := audiofile.Open(context.Background(), fake, fid, sessionRate(), openPlayFromBeginning,
			audiofile.WithFS(afero.NewOsFs()),
			audiofile.WithTuning(cfg.Tuning.ToTuning()),
			audiofile.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("streamloaderctl open: %w", err)
		}
		defer af.Close()

		ctrl := af.StreamLoaderController()
		fmt.Printf("cached=%v size=%d\n", af.IsCached(), ctrl.Len())
		return nil
	},
}

func init() {
	openCmd.Flags().BoolVar(&openPlayFromBeginning, "from-start", true, "request the streaming-from-start initial window")
	rootCmd.AddCommand(openCmd)
}
