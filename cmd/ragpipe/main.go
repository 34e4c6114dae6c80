package main

import (
	"fmt"
	"os"

	"github.com/mohammad-safakhou/ragpipe/config"
	"github.com/spf13/cobra"
)

var cfgPath string

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgPath)
}

func main() {
	var root = &cobra.Command{
		Use:           "ragpipe",
		Short:         "Plan, execute and reflect retrieval agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	root.AddCommand(serveCMD(), askCMD(), knowledgeCMD(), migrateCMD(), eventsCMD())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
