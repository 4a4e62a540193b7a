package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/holepunch/holepunch/ca"
	"github.com/holepunch/holepunch/ca/storage"
	"github.com/holepunch/holepunch/config"
	"github.com/holepunch/holepunch/relay"
	"github.com/holepunch/holepunch/util"
	"github.com/kisom/goutils/die"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgDir string

// RootCmd is the holepunch command processor.
var RootCmd = &cobra.Command{
	Use:   "holepunch",
	Short: "Relay framed messages between peers that trust a common root CA",
	Long: `holepunch bootstraps a self-signed root CA in its configuration
directory and relays length-framed messages between a server and its
clients over plain TCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging(viper.GetBool("log.json"), viper.GetString("log.level"), viper.GetBool("debug"))
	},
}

// Execute runs the command line.
func Execute() {
	die.If(RootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVarP(&cfgDir, "config", "c", "", "configuration directory (default is $XDG_CONFIG_HOME/holepunch)")
	RootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	RootCmd.PersistentFlags().Bool("log.json", false, "if passed, logging will be in json")
	RootCmd.PersistentFlags().StringP("log.level", "l", "info", "logging level.  Must be one [debug|info|warning|error]")

	viper.BindPFlag("config", RootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("log.json", RootCmd.PersistentFlags().Lookup("log.json"))
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log.level"))
}

// initConfig reads ENV variables if set.  The configuration document is
// parsed by the config package, not viper, so its errors keep their
// kind.
func initConfig() {
	viper.SetEnvPrefix("HOLEPUNCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func configDir() (string, error) {
	if dir := viper.GetString("config"); dir != "" {
		return dir, nil
	}
	return config.DefaultDir()
}

// loadConfig reads the configuration document and applies flag and
// environment overrides on top of it.
func loadConfig() (*config.Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return cfg, applyOverrides(cfg)
}

func applyOverrides(cfg *config.Config) error {
	if viper.IsSet("relay.address") {
		cfg.Relay.Address = viper.GetString("relay.address")
	}
	if viper.IsSet("relay.port") {
		cfg.Relay.Port = viper.GetInt("relay.port")
		if cfg.Relay.Port < 0 || cfg.Relay.Port > 65535 {
			return util.Errorf(util.KindConfig, "relay port %d is out of range", cfg.Relay.Port)
		}
	}
	for key, d := range map[string]*util.ParsableDuration{
		"relay.read_timeout":  &cfg.Relay.ReadTimeout,
		"relay.write_timeout": &cfg.Relay.WriteTimeout,
		"relay.heartbeat":     &cfg.Relay.Heartbeat,
	} {
		if viper.IsSet(key) {
			*d = util.ParsableDuration(viper.GetDuration(key))
		}
	}
	if viper.IsSet("relay.max_message_size") {
		cfg.Relay.MaxMessageSize = viper.GetUint64("relay.max_message_size")
	}
	if viper.IsSet("metrics.address") {
		cfg.Metrics.Address = viper.GetString("metrics.address")
	}
	if viper.IsSet("metrics.port") {
		cfg.Metrics.Port = viper.GetString("metrics.port")
	}
	return nil
}

func caStorage(cfg *config.Config) (storage.PKIStorage, error) {
	key, cert := cfg.CAPaths()
	fb, err := storage.NewFileBackend(key, cert)
	if err != nil {
		return nil, err
	}

	m, ok := cfg.CA.(config.Managed)
	switch {
	case !ok:
		return fb, nil
	case m.Service != nil:
		n, err := storage.NewFileServiceNotifier(fb, m.Service.Manager, &storage.FileServiceOptions{
			Action:            m.Service.Action,
			Service:           m.Service.Name,
			CheckTargetStatus: m.Service.CheckStatus,
		})
		if err != nil {
			return nil, util.Wrap(util.KindConfig, err)
		}
		return n, nil
	case m.Notify != "":
		return storage.NewFileCommandNotifier(fb, m.Notify)
	}
	return fb, nil
}

func newCAManager(cfg *config.Config) (*ca.Manager, storage.PKIStorage, error) {
	store, err := caStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	m, err := ca.New(ca.DefaultOptions(), store)
	return m, store, err
}

// loadCA ensures a managed CA exists and loads an unmanaged one without
// writing anything.
func loadCA(ctx context.Context, cfg *config.Config) (*ca.Bundle, error) {
	m, _, err := newCAManager(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.IsManaged() {
		return m.Ensure(ctx)
	}
	return m.Load(ctx)
}

func relayOptions(rc config.RelayConfig) relay.Options {
	return relay.Options{
		ReadTimeout:    rc.ReadTimeout.Duration(),
		WriteTimeout:   rc.WriteTimeout.Duration(),
		MaxMessageSize: rc.MaxMessageSize,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func describeCA(cfg *config.Config) string {
	key, cert := cfg.CAPaths()
	mode := "unmanaged"
	if cfg.IsManaged() {
		mode = "managed"
	}
	return fmt.Sprintf("%s (key %s, certificate %s)", mode, key, cert)
}
