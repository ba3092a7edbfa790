// Package cmd contains the command-line interface logic for ngescape.
// It uses the Cobra library for commands and Viper for configuration.
package cmd

import (
	"ngescape/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = "1.0.0"

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "ngescape",
		Short: "ngescape finds AngularJS sandbox escapes (client-side template injection).",
		Long: `ngescape crawls a web application, injects version specific AngularJS
sandbox escape payloads into paths, query strings and form bodies, and reports
the requests whose payload lands inside the live ng-app scope. Optionally each
finding is confirmed in a headless browser.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file (default ./ngescape.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write the log file as JSON")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	bind("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	bind("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	bind("log.json_format", rootCmd.PersistentFlags().Lookup("log-json"))
}

// initConfig sets defaults and environment overrides on the global Viper instance.
func initConfig() {
	config.Prepare(viper.GetViper())
}
