package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcpbridge application
var rootCmd = &cobra.Command{
	Use:   "mcpbridge",
	Short: "MCP server that authenticates sessions against a better-auth backend",
	Long: `mcpbridge serves the Model Context Protocol over HTTP and ties each MCP
session to a better-auth session of the app backend.

Hosts such as ChatGPT discover the OAuth endpoints, send the user through
the backend login, and then call the app tools on the user's behalf.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpbridge version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
