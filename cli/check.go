package cli

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"os"

	"github.com/cloudflare/cfssl/helpers"
	"github.com/holepunch/holepunch/config"
	"github.com/holepunch/holepunch/util"
	"github.com/kisom/goutils/fileutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the configuration file and the root CA.",
	Long: `holepunch check parses the configuration document, loads the root CA
key and certificate and verifies they belong together, and validates
every profile certificate override, which must be issued by the root CA. Nothing is written, so a managed CA
that hasn't been created yet is reported as an error; run init-ca first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runCheck(context.Background(), cfg, cmd.OutOrStdout())
	},
}

// checkProfile verifies a profile's certificate override is a readable
// PEM certificate.  With roots set it must also chain to them.
func checkProfile(p config.ProfileConfig, roots *x509.CertPool) error {
	if p.Certificate == "" {
		return nil
	}
	if !fileutil.FileDoesExist(p.Certificate) {
		return util.Errorf(util.KindIO, "profile %s: certificate %s does not exist", p.Name, p.Certificate)
	}

	in, err := os.ReadFile(p.Certificate)
	if err != nil {
		return util.Wrapf(util.KindIO, err, "profile %s", p.Name)
	}
	cert, err := helpers.ParseCertificatePEM(in)
	if err != nil {
		return util.Wrapf(util.KindCertificate, err, "profile %s: certificate %s", p.Name, p.Certificate)
	}
	if roots == nil {
		return nil
	}
	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return util.Wrapf(util.KindCertificate, err, "profile %s: certificate %s is not issued by the root CA", p.Name, p.Certificate)
	}
	return nil
}

func runCheck(ctx context.Context, cfg *config.Config, out io.Writer) error {
	m, _, err := newCAManager(cfg)
	if err != nil {
		return err
	}

	bundle, err := m.Load(ctx)
	if err != nil {
		if cfg.IsManaged() {
			return errors.WithMessage(err, "managed CA not loadable, run holepunch init-ca to create it")
		}
		return err
	}
	if _, err = bundle.TLSCertificate(); err != nil {
		return err
	}
	fmt.Fprintf(out, "CA %s: %s\n", describeCA(cfg), bundle)

	roots := bundle.CertPool()
	for _, p := range cfg.Profiles {
		if err := checkProfile(p, roots); err != nil {
			return err
		}
		fmt.Fprintf(out, "profile %s: ok\n", p.Name)
	}

	fmt.Fprintln(out, "OK")
	return nil
}

func init() {
	RootCmd.AddCommand(checkCmd)
}
