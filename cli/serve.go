package cli

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/holepunch/holepunch/config"
	"github.com/holepunch/holepunch/metrics"
	"github.com/holepunch/holepunch/relay"
	"github.com/holepunch/holepunch/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server.",
	Long: `holepunch serve makes sure the root CA is available, then accepts
connections and writes every message payload it receives to standard
output. A managed CA is generated if missing; an unmanaged CA is only
loaded. SIGINT or SIGTERM shut the server down.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		ln, err := listen(cfg.Relay)
		if err != nil {
			return err
		}
		return runServe(ctx, cfg, ln, os.Stdout)
	},
}

func listen(rc config.RelayConfig) (net.Listener, error) {
	addr := net.JoinHostPort(rc.Address, strconv.Itoa(rc.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, util.Wrapf(util.KindIO, err, "listening on %s", addr)
	}
	return ln, nil
}

// runServe takes ownership of ln.
func runServe(ctx context.Context, cfg *config.Config, ln net.Listener, out io.Writer) error {
	bundle, err := loadCA(ctx, cfg)
	if err != nil {
		ln.Close()
		return err
	}
	log.Info().Str("ca", bundle.String()).Msg("holepunch: trust material ready")

	metrics.Start(ctx, cfg.Metrics.Address, cfg.Metrics.Port)

	srv := relay.NewServer(out, relayOptions(cfg.Relay))
	return srv.Serve(ctx, ln)
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("address", "a", config.DefaultRelayAddress, "address to bind to")
	serveCmd.Flags().IntP("port", "p", config.DefaultRelayPort, "port to bind to")

	viper.BindPFlag("relay.address", serveCmd.Flags().Lookup("address"))
	viper.BindPFlag("relay.port", serveCmd.Flags().Lookup("port"))
}
