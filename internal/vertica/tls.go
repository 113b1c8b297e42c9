package vertica

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	vertigo "github.com/vertica/vertica-sql-go"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
)

// tlsConfigName is the key custom TLS configs register under with the
// driver. Re-registering replaces the previous config, which is exactly
// what a reconfiguration needs.
const tlsConfigName = "vdiag_custom"

// driverTLSMode maps the profile's TLS enum onto the driver's tlsmode
// values. The modes that pin a CA build a custom tls.Config from the
// profile's files and register it with the driver under a fixed name.
//
//	disable, allow          → none
//	prefer, require         → server
//	verify-ca, verify-full  → registered custom config
//
// The legacy SSL flag forces plain server-side TLS for pre-TLS-mode
// servers. Client certificates, when configured, are attached to the
// custom config.
func driverTLSMode(profile *config.Profile) (string, error) {
	mode := profile.TLSMode
	if mode == "" {
		if profile.LegacySSL {
			return "server", nil
		}
		return "none", nil
	}

	switch mode {
	case config.TLSDisable, config.TLSAllow:
		return "none", nil
	case config.TLSPrefer, config.TLSRequire:
		return "server", nil
	case config.TLSVerifyCA, config.TLSVerifyFull:
		cfg, err := buildTLSConfig(profile)
		if err != nil {
			return "", err
		}
		if err := vertigo.RegisterTLSConfig(tlsConfigName, cfg); err != nil {
			return "", errs.Wrap(errs.ErrKindValidation, "cannot register TLS config", err)
		}
		return tlsConfigName, nil
	}
	return "", errs.New(errs.ErrKindValidation, "unsupported tls_mode "+string(mode))
}

// buildTLSConfig loads the CA (and optional client certificate pair) from
// the profile's file paths. verify-ca keeps the CA pin but skips hostname
// verification; verify-full verifies the hostname too.
func buildTLSConfig(profile *config.Profile) (*tls.Config, error) {
	pem, err := os.ReadFile(profile.TLSCAFile)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation, "cannot read tls_ca_file", err)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, errs.New(errs.ErrKindValidation, "tls_ca_file holds no usable certificates")
	}

	cfg := &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}

	if profile.TLSMode == config.TLSVerifyCA {
		// Chain is still verified against the pinned CA via
		// VerifyPeerCertificate; only the hostname check is waived.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = caOnlyVerifier(roots)
	}

	if profile.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(profile.TLSCertFile, profile.TLSKeyFile)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindValidation, "cannot load client certificate pair", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// caOnlyVerifier validates the presented chain against roots without
// checking the server hostname, matching verify-ca semantics.
func caOnlyVerifier(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errs.New(errs.ErrKindConnectionFailed, "server presented no certificate")
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return errs.Wrap(errs.ErrKindConnectionFailed, "cannot parse server certificate", err)
			}
			certs = append(certs, cert)
		}

		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, cert := range certs[1:] {
			opts.Intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(opts)
		return err
	}
}
