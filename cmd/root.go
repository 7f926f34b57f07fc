// cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/observability"
)

type ctxKey int

const configKey ctxKey = iota

const envPrefix = "PDP"

var cfgFile string

// flagKeys maps command line flags onto configuration keys so flags override
// the config file and environment.
var flagKeys = map[string]string{
	"log-level":  "logger.level",
	"url":        "page.url",
	"listen":     "control.listen",
	"headless":   "browser.headless",
	"remote-url": "browser.remote_url",
	"exec-path":  "browser.exec_path",
	"horizon":    "render.horizon",
	"product-id": "viewer.product_id",
	"addr":       "proxy.listen",
	"match":      "proxy.match",
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pdp-injector",
		Short:         "Injects 3D viewer and cart controls into product detail pages.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			if off, _ := cmd.Flags().GetBool("no-default-viewer"); off {
				cfg.Injector.DefaultViewer = false
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.SetVersionTemplate("pdp-injector version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("no-default-viewer", false, "do not open the 3D viewer in place of the product image")

	cmd.AddCommand(newRunCmd(), newRenderCmd(), newProxyCmd(), newConfigCmd(), newVersionCmd())
	return cmd
}

// Execute runs the CLI with a signal-aware context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// initializeConfig layers the config file, PDP_ environment variables and
// changed flags onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := flagKeys[f.Name]
		if key == "" || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// configFrom returns the configuration stored by the root command.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
