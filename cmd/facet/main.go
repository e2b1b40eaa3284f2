package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/facetdb/facet/config"
	"github.com/facetdb/facet/store"
	_ "github.com/facetdb/facet/store/postgres"
	"github.com/facetdb/facet/util"
	"github.com/facetdb/facet/util/metrics"
	"github.com/facetdb/facet/version"
)

var logger *log.Logger

// Calling os.Exit() directly will not honor any defer'd statements.
// Instead, we will create an exit type and handler so that we may panic
// and handle any exit specific errors
type exit struct {
	RC int // The exit code
}

// exitHandler will handle a panic with type of exit (see above)
func exitHandler() {
	if err := recover(); err != nil {
		if exit, ok := err.(exit); ok {
			os.Exit(exit.RC)
		}

		// It's not actually an exit type, restore panic
		panic(err)
	}
}

// Requires that main (and every go-routine where this is used)
// have defer exitHandler() called first
func maybeFail(err error, errfmt string, params ...interface{}) {
	if err == nil {
		return
	}
	logger.WithError(err).Errorf(errfmt, params...)
	panic(exit{1})
}

var (
	postgresConnection string
	dataDir            string
	logLevel           string
	doVersion          bool
)

// loadConfig looks for facet.yml in the data directory and merges it
// into viper before flags are bound.
func loadConfig() {
	if dataDir == "" {
		return
	}
	configPath, err := util.GetConfigFromDataDir(dataDir, config.FileName, config.FileTypes[:])
	maybeFail(err, "locating config in %s", dataDir)
	if configPath == "" {
		return
	}
	viper.SetConfigFile(configPath)
	maybeFail(viper.ReadInConfig(), "invalid config file (%s)", configPath)
	logger.Infof("Using configuration file: %s", configPath)
}

var rootCmd = &cobra.Command{
	Use:   "facet",
	Short: "facet bitemporal tuplestore",
	Long:  `facet stores every fact as an immutable datom in PostgreSQL and projects SQL-shaped views over them. Rows inserted through the views become datom assertions; deletes become retractions; any past transaction point remains queryable.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		// If no arguments passed, we should fallback to help
		cmd.HelpFunc()(cmd, args)
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if doVersion {
			fmt.Printf("%s\n", version.LongVersion())
			os.Exit(0)
		}
		loadConfig()
		config.BindFlagSet(cmd.Flags())
		level, err := log.ParseLevel(logLevel)
		maybeFail(err, "bad log level %s", logLevel)
		logger.SetLevel(level)
	},
}

// openStore connects to the configured backend and waits for the
// schema to be available.
func openStore(readonly bool) store.Store {
	if postgresConnection == "" {
		maybeFail(fmt.Errorf("missing connection string"), "provide --postgres-connection or %s_POSTGRES_CONNECTION", config.EnvPrefix)
	}
	opts := store.Options{ReadOnly: readonly}
	s, availableCh, err := store.StoreByName("postgres", postgresConnection, opts, logger)
	maybeFail(err, "opening store")
	<-availableCh
	return s
}

func init() {
	logger = log.New()
	logger.SetFormatter(&log.JSONFormatter{
		DisableHTMLEscape: true,
	})
	logger.SetOutput(os.Stderr)

	rootCmd.PersistentFlags().StringVarP(&postgresConnection, "postgres-connection", "P", "", "connection string for the postgres database")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "i", "", "directory searched for a facet.yml configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "loglevel", "l", "info", "verbosity of logs: [error, warn, info, debug, trace]")
	rootCmd.PersistentFlags().BoolVarP(&doVersion, "version", "v", false, "print version and exit")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(defineAttributeCmd)
	rootCmd.AddCommand(defineViewCmd)
	rootCmd.AddCommand(deleteViewCmd)
	rootCmd.AddCommand(attributesCmd)
	rootCmd.AddCommand(viewsCmd)
	rootCmd.AddCommand(queryCmd)

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	metrics.RegisterPrometheusMetrics()
}

func main() {
	defer exitHandler()
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("command failed")
		panic(exit{1})
	}
}
