// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	datastoreURIFlag = "datastore-uri"
	datastoreURIConf = "datastore.uri"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with HOLDFAST, or config.yaml (in that
// order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("HOLDFAST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/holdfast", "$HOME/.holdfast", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetDefault(datastoreURIFlag, "")
	err := viper.ReadInConfig()
	if err == nil {
		viper.SetDefault(datastoreURIFlag, viper.Get(datastoreURIConf))
	}

	return &cobra.Command{
		Use:   "holdfast",
		Short: "A store-backed collection adapter with write-through and write-behind persistence",
		Long: `A store-backed collection adapter with write-through and write-behind persistence.

Holdfast wraps collection-valued fields of persistent entities so that reads
and writes stay consistent with a backing datastore, either immediately or at
flush time.`,
	}
}
