package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/edgewire/internal/config"
	"github.com/danmuck/edgewire/internal/logging"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/spf13/cobra"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wirectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "wirectl",
		Short: "Run and talk to an edgewire pub/sub broker",
		Long: `wirectl runs an edgewire broker and connects subscribers and
publishers to it over the framed TCP channel protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "TOML or YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		brokerCmd(flags),
		subscribeCmd(flags),
		publishCmd(flags),
		configCmd(flags),
		versionCmd(),
	)
	return root
}

// load resolves the config file, falling back to defaults when none is
// given, and installs the logger it describes.
func (f *rootFlags) load(app string) (config.Config, error) {
	logging.ConfigureRuntime()
	cfg := config.Default()
	if path := strings.TrimSpace(f.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if f.logLevel != "" {
		if _, ok := logging.ParseLevel(f.logLevel); !ok {
			return config.Config{}, fmt.Errorf("invalid log level %q", f.logLevel)
		}
		cfg.Log.Level = f.logLevel
	}
	observability.InitLogger(app, cfg.Log.Level, cfg.Log.JSON)
	return cfg, nil
}
