package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/holepunch/holepunch/config"
	"github.com/holepunch/holepunch/relay"
	"github.com/holepunch/holepunch/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	streamStdin bool
	profileName string
)

var connectCmd = &cobra.Command{
	Use:   "connect ADDRESS",
	Short: "Connect to a relay server.",
	Long: `holepunch connect dials a relay server. By default it sends a single
ping and prints the round trip time. With --stdin, standard input is
streamed to the server as messages while heartbeats keep the
connection alive. ADDRESS may omit the port, in which case the
configured relay port is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return runConnect(ctx, cfg, connectOptions{
			Address: args[0],
			Stdin:   streamStdin,
			Profile: profileName,
		}, os.Stdin, cmd.OutOrStdout())
	},
}

type connectOptions struct {
	Address string
	Stdin   bool
	Profile string
}

func withDefaultPort(address string, port int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(port))
}

func runConnect(ctx context.Context, cfg *config.Config, opts connectOptions, in io.Reader, out io.Writer) error {
	if opts.Profile != "" {
		p, ok := cfg.Profile(opts.Profile)
		if !ok {
			return util.Errorf(util.KindConfig, "no profile named '%s' in 'profiles' section", opts.Profile)
		}
		if err := checkProfile(p, nil); err != nil {
			return err
		}
		log.Debug().Str("profile", p.Name).Str("certificate", p.Certificate).Msg("holepunch: using profile")
	}

	address := withDefaultPort(opts.Address, cfg.Relay.Port)
	client, err := relay.Dial(ctx, address, relay.ClientOptions{
		Options: relay.Options{
			WriteTimeout:   cfg.Relay.WriteTimeout.Duration(),
			MaxMessageSize: cfg.Relay.MaxMessageSize,
		},
		Heartbeat: cfg.Relay.Heartbeat.Duration(),
		Replies:   out,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if !opts.Stdin {
		rtt, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pong from %s: time=%s\n", address, rtt)
		return nil
	}

	sent, err := client.Stream(ctx, in)
	log.Info().Int64("bytes", sent).Str("address", address).Msg("holepunch: stream finished")
	return err
}

func init() {
	RootCmd.AddCommand(connectCmd)
	connectCmd.Flags().BoolVar(&streamStdin, "stdin", false, "stream standard input to the server")
	connectCmd.Flags().StringVar(&profileName, "profile", "", "profile to connect with")
}
