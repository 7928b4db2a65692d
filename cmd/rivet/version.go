package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rivet/internal/version"
)

var versionFormat string

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

type versionPayload struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show rivet build information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch strings.ToLower(versionFormat) {
		case "pretty":
			fmt.Fprintf(cmd.OutOrStdout(), "rivet %s\n", version.Version)
			if version.GitCommit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", version.GitCommit)
			}
			if version.BuildDate != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built:  %s\n", version.BuildDate)
			}
			return nil
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(versionPayload{
				Tool:      "rivet",
				Version:   version.Plain(),
				GitCommit: version.GitCommit,
				BuildDate: version.BuildDate,
			})
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}
	},
}
