package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configx "github.com/pattarawat/steward/pkg/config"
	_ "github.com/pattarawat/steward/pkg/logger/autoload"
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Steward coordinates task-executing agents behind a streaming chat API",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if env, _ := cmd.Flags().GetString("env"); env != "" {
			configx.SetEnvFile(env)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env", "", "Path to an env file (defaults to .env when present)")
}
