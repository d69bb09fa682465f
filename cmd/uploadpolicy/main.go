package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uploadpolicy",
		Short: "Sign, verify and use delegated upload policies",
		Long: `Upload policy command line interface

Signs time-limited upload policies with an access key pair, verifies
policy/signature pairs, and uploads files to a policy server.

Credentials default to ISSUER_ACCESS_KEY_ID and ISSUER_SECRET_KEY.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewSignCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewUploadCommand())

	return rootCmd
}
