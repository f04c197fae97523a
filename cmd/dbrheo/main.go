// Package main provides the dbrheo CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dbrheo/dbrheo/cli"
)

var (
	model    string
	database string
	verbose  bool
)

func main() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "dbrheo",
		Short: "Conversational database agent",
		Long:  `dbrheo talks to your databases: it plans and runs SQL, inspects schemas, and explains what it finds, one conversation at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&model, "model", "m", "", "LLM model to use (e.g. gemini-3-flash, claude-sonnet-4-5, gpt-5)")
	rootCmd.PersistentFlags().StringVarP(&database, "database", "d", "", "database connection URL to open at startup (sqlite://, postgresql://, mysql://)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show verbose diagnostic output")

	rootCmd.AddCommand(toolsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context) error {
	err := cli.Run(ctx, os.Stdin, os.Stdout, cli.Options{
		Model:   model,
		DBURL:   database,
		Verbose: verbose,
	})
	if exitErr, ok := err.(*cli.ExitError); ok {
		os.Exit(exitErr.Code)
	}
	return err
}

func toolsCmd() *cobra.Command {
	var showSchemas bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(os.Stdout, showSchemas)
		},
	}
	cmd.Flags().BoolVarP(&showSchemas, "verbose", "V", false, "show tool JSON schemas")
	return cmd
}
