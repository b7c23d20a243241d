package supervisor

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/shikharish/pgmoneta/pkg/pgerr"
)

// TLSMaterial names the certificate/key/CA paths the remote management
// listener group may be configured with; the metrics group is always
// plaintext. TLS is optional; empty fields mean plaintext.
type TLSMaterial struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// ValidateTLS loads and sanity-checks the configured TLS material once at
// startup, after the control socket is bound and before the metrics and
// remote-management listener groups are, per spec.md §4.1 step 8. It returns a
// ready-to-use *tls.Config, or nil if no TLS material was configured.
func ValidateTLS(m TLSMaterial) (*tls.Config, error) {
	if m.CertFile == "" && m.KeyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(m.CertFile, m.KeyFile)
	if err != nil {
		return nil, pgerr.New(pgerr.TLSInvalid, "", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if m.CAFile != "" {
		pem, err := os.ReadFile(m.CAFile)
		if err != nil {
			return nil, pgerr.New(pgerr.TLSInvalid, m.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, pgerr.New(pgerr.TLSInvalid, "invalid CA bundle", nil)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}
