package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nekozuka/imgcatcher/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/credentials.yaml
var credentialsTemplate embed.FS

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new imgcatcher credentials file",
		Long: `Initialize creates a new credentials.yaml file in the current directory.

The generated file includes:
- Commented examples for each supported source
- Documentation for rate limit and endpoint overrides

Examples:
  # Create credentials.yaml in current directory
  imgcatcher init

  # Create the file at a specific path
  imgcatcher init -o ~/.config/imgcatcher/credentials.yaml

  # Force overwrite existing file
  imgcatcher init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultCredentialsFile,
		"Output file path for the credentials file")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing credentials file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	// Check if file already exists
	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("credentials file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	// Read template from embedded filesystem
	content, err := credentialsTemplate.ReadFile("templates/credentials.yaml")
	if err != nil {
		return fmt.Errorf("failed to read credentials template: %w", err)
	}

	// Create parent directories if needed
	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Credentials are secrets; keep the file owner-readable only
	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created credentials file: %s\n", outputPath)
	fmt.Fprintln(cmd.OutOrStdout(), "\nEdit this file to configure source credentials such as:")
	fmt.Fprintln(cmd.OutOrStdout(), "  - Danbooru/Gelbooru username and API key")
	fmt.Fprintln(cmd.OutOrStdout(), "  - Pixiv refresh token")
	fmt.Fprintln(cmd.OutOrStdout(), "  - Per-source rate limit overrides")

	return nil
}
