package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/holepunch/holepunch/config"
	"github.com/spf13/cobra"
)

var currentVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information.",
	Long:  `holepunch version will return the current version of holepunch.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		version(cmd.OutOrStdout())
		return nil
	},
}

func version(out io.Writer) {
	fmt.Fprintln(out, "holepunch version", currentVersion)
	fmt.Fprintln(out, "	built with Go", runtime.Version())

	dir, err := configDir()
	if err != nil {
		return
	}
	path := config.Path(dir)

	// Unlike loadConfig this never writes the default document.
	in := []byte(config.DefaultDocument)
	if data, err := os.ReadFile(path); err == nil {
		in = data
	}
	cfg, err := config.Parse(dir, in)
	if err != nil {
		fmt.Fprintf(out, "\n	Configuration (%s): %s\n", path, err)
		return
	}

	fmt.Fprintf(out, `
	Configuration:
	--------------
	config directory:	%s
	CA:			%s
	profiles:		%d
	relay:			%s:%d
	metrics:		%s:%s
`, cfg.Dir, describeCA(cfg), len(cfg.Profiles), cfg.Relay.Address, cfg.Relay.Port,
		cfg.Metrics.Address, cfg.Metrics.Port)
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
