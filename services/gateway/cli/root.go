package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "gateway",
	Short:        "Dispatch Engine Gateway — accepts, tracks and cancels dispatches over HTTP",
	SilenceUsage: true,
}

// Execute runs the gateway CLI; cmd/gateway/main.go calls it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfigFile)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file path (default: ./gateway.yaml)")
	pf.String("log-level", "info", "log level: debug | info | warn | error")
	bindFlag("log_level", pf, "log-level")

	rootCmd.AddCommand(serveCmd, newInitCmd("gateway", defaultGatewayYAML), migrateCmd, versionCmd)
}

// loadConfigFile resolves the viper config source. A missing file is fine;
// flags and environment variables carry the defaults then.
func loadConfigFile() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	default:
		viper.SetConfigName("gateway")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.dispatch-engine")
		}
		viper.AddConfigPath("/etc/dispatch-engine")
	}

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	case isConfigNotFound(err):
		// run on defaults
	default:
		fmt.Fprintln(os.Stderr, "error reading config file:", err)
		os.Exit(1)
	}
}

func isConfigNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok || os.IsNotExist(err)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func buildLogger(level, service string) *slog.Logger {
	lvl, ok := logLevels[level]
	if !ok {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
