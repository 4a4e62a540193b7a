package cli

import (
	"fmt"
	"io"

	"github.com/holepunch/holepunch/config"
	"github.com/kisom/goutils/fileutil"
	"github.com/spf13/cobra"
)

var force bool

func runGenConfig(dir string, force bool, out io.Writer) error {
	path := config.Path(dir)
	if fileutil.FileDoesExist(path) {
		if !force {
			return fmt.Errorf("configuration file %s exists and --force was not specified", path)
		}
		fmt.Fprintf(out, "holepunch: overwriting existing configuration file %s\n", path)
	}

	if err := config.WriteDefault(dir, force); err != nil {
		return err
	}

	fmt.Fprintf(out, "holepunch: writing config file %s\n", path)
	fmt.Fprintf(out, "-----\n%s-----\n", config.DefaultDocument)
	return nil
}

var genconfigCmd = &cobra.Command{
	Use:   "genconfig",
	Short: "Generate a default configuration file.",
	Long: fmt.Sprintf(`Writes the default configuration document to %s in the
configuration directory. The defaults are:

	+ ca: managed, key ./%s, certificate ./%s
	+ profiles: default
	+ relay: %s:%d, read timeout %s, write timeout %s, heartbeat %s
	+ metrics: %s, disabled until a port is set
`, config.FileName, config.DefaultKeyFile, config.DefaultCertificateFile,
		config.DefaultRelayAddress, config.DefaultRelayPort, config.DefaultReadTimeout,
		config.DefaultWriteTimeout, config.DefaultHeartbeat, config.DefaultMetricsAddress),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir()
		if err != nil {
			return err
		}
		return runGenConfig(dir, force, cmd.OutOrStdout())
	},
}

func init() {
	RootCmd.AddCommand(genconfigCmd)
	genconfigCmd.Flags().BoolVar(&force, "force", false, "force overwriting an existing configuration file")
}
