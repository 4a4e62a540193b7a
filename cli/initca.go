package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/holepunch/holepunch/ca"
	"github.com/holepunch/holepunch/config"
	"github.com/holepunch/holepunch/util"
	"github.com/spf13/cobra"
)

var forceCreate, assumeYes bool

var initCACmd = &cobra.Command{
	Use:   "init-ca",
	Short: "Create the root CA if it doesn't exist yet.",
	Long: `holepunch init-ca makes sure the managed root CA key and certificate
exist, generating whatever is missing. Existing material is left
untouched. With --force a new CA always replaces the current one, which
breaks trust for every peer holding the old certificate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		confirm := func(prompt string) bool {
			if assumeYes {
				return true
			}
			return askYesNo(os.Stdin, cmd.OutOrStdout(), prompt)
		}
		return runInitCA(ctx, cfg, forceCreate, confirm, cmd.OutOrStdout())
	},
}

func askYesNo(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func runInitCA(ctx context.Context, cfg *config.Config, force bool, confirm func(string) bool, out io.Writer) error {
	if !cfg.IsManaged() {
		key, cert := cfg.CAPaths()
		return util.Errorf(util.KindConfig, "the CA is not managed by holepunch (ca.managed is false); refusing to write %s or %s", key, cert)
	}

	m, store, err := newCAManager(cfg)
	if err != nil {
		return err
	}

	var bundle *ca.Bundle
	if force {
		if store.HasKey() && !confirm("Replace the existing root CA? Peers trusting it will stop working.") {
			return util.Errorf(util.KindConfig, "not replacing the existing CA")
		}
		bundle, err = m.Create(ctx)
	} else {
		bundle, err = m.Ensure(ctx)
	}
	if err != nil {
		return err
	}

	verb := "already present"
	switch {
	case bundle.GeneratedKey:
		verb = "created"
	case bundle.GeneratedCert:
		verb = "reissued"
	}

	key, cert := cfg.CAPaths()
	fmt.Fprintf(out, "holepunch: root CA %s: %s\n", verb, bundle)
	fmt.Fprintf(out, "\tkey:         %s\n", key)
	fmt.Fprintf(out, "\tcertificate: %s\n", cert)
	return nil
}

func init() {
	RootCmd.AddCommand(initCACmd)
	initCACmd.Flags().BoolVar(&forceCreate, "force", false, "replace any existing CA with a newly generated one")
	initCACmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "don't ask for confirmation before replacing the CA")
}
