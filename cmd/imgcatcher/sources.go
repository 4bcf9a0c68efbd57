package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nekozuka/imgcatcher/internal/source"
	"github.com/spf13/cobra"
)

// NewSourcesCmd creates the sources command.
func NewSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List supported image sources",
		Long: `Sources lists the supported image sources with their authentication
requirements, rate limits, and supported filters.

Examples:
  # Human-readable listing
  imgcatcher sources

  # JSON output for tooling
  imgcatcher sources --json`,
		Args: cobra.NoArgs,
		RunE: runSourcesCmd,
	}

	cmd.Flags().BoolP("json", "j", false, "Output source list in JSON format")

	return cmd
}

// runSourcesCmd executes the sources command.
func runSourcesCmd(cmd *cobra.Command, _ []string) error {
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	catalog := source.Catalog()

	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(catalog)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Supported sources (%d):\n\n", len(catalog))

	for _, info := range catalog {
		auth := "no"
		if info.RequiresAuth {
			auth = "yes"
		}
		fmt.Fprintf(out, "  %s (%s)\n", info.DisplayName, info.Name)
		fmt.Fprintf(out, "    %s\n", info.Description)
		fmt.Fprintf(out, "    Auth required: %s\n", auth)
		fmt.Fprintf(out, "    Rate limit:    %s\n", info.RateLimit)
		fmt.Fprintf(out, "    Filters:       %s\n\n", strings.Join(info.SupportedFilters, ", "))
	}

	fmt.Fprintln(out, "Use 'imgcatcher init' to create a credentials file for authenticated sources.")
	return nil
}
