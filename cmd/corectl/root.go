package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.1.0"

	envPrefix = "core"
)

var (
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "corectl",
		Short: "operate the repository core",
		Long: fmt.Sprintf(`corectl (v%s)

Inspect configuration and exercise the repository, outbox and cache layers
against the configured storage backend.`, Version),
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of corectl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "corectl v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(demoCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	setupConfigFlags(rootCmd)
}

// initEnv loads .env files. Values already in the environment win.
func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// newViper returns a viper instance reading CORE_* variables, where a key
// such as storage.dsn maps to CORE_STORAGE_DSN.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
