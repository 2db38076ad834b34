package broker

import (
	"crypto/tls"
	"net"
)

// TLSConfig carries the optional cert/key pair for amqps://. A nil or
// zero-value TLSConfig means plain-text AMQP only.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// wrapListener returns ln unchanged for plain AMQP, or a TLS-terminating
// listener when cfg names a cert/key pair — mirroring the split plain/TLS
// dial path RabbitMQ client libraries expect from amqp:// vs amqps://.
func wrapListener(ln net.Listener, cfg *TLSConfig) (net.Listener, error) {
	if cfg == nil || cfg.CertFile == "" {
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	return tls.NewListener(ln, tlsCfg), nil
}
