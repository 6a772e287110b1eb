package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhe.chen/explaind/internal/pipeline"
)

var manifestPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the report of a past run",
	Long: `Prints a run report written to output/run_<id>.json.

Example:
  explaind status --manifest output/run_3.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := pipeline.LoadManifest(manifestPath)
		if err != nil {
			return err
		}
		printManifest(cmd.OutOrStdout(), m)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to a run report (required)")
	_ = statusCmd.MarkFlagRequired("manifest")
}

// printManifest writes a human-readable run summary
func printManifest(w io.Writer, m *pipeline.Manifest) {
	fmt.Fprintf(w, "Run %d: %s (%s)\n", m.RunID, m.Topic, m.Audience)
	fmt.Fprintf(w, "Status: %s\n", m.Status)
	if m.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", m.LastError)
	}
	if len(m.Scenes) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENE\tTITLE\tSTATE\tNARRATED\tATTEMPTS\tDETAIL")
	for _, s := range m.Scenes {
		detail := s.ArtifactPath
		if s.LastError != "" {
			detail = firstLine(s.LastError)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d\t%s\n", s.Number, s.Title, s.State, s.Narrated, s.Attempts, detail)
	}
	_ = tw.Flush()

	if m.FinalArtifactPath != "" {
		fmt.Fprintf(w, "\nFinal video: %s\n", m.FinalArtifactPath)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
