// Package tls issues the ephemeral certificate used by the preview server
// when no certificate files are given.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const validFor = 30 * 24 * time.Hour

// SelfSigned returns a server config holding a fresh ECDSA P-256
// certificate. The certificate names localhost, the loopback addresses,
// every LAN interface address and any extra hosts (names or IPs). The
// SHA-256 fingerprint is logged for checking in the browser warning.
func SelfSigned(hosts []string, log *logrus.Entry) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "baas preview"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	addHost(tmpl, "localhost")
	addHost(tmpl, "127.0.0.1")
	addHost(tmpl, "::1")
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
				tmpl.IPAddresses = append(tmpl.IPAddresses, ipNet.IP)
			}
		}
	}
	for _, h := range hosts {
		addHost(tmpl, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	log.WithField("component", "tls").Infof("tls: self-signed certificate fingerprint %X", sha256.Sum256(der))

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		}},
	}, nil
}

func addHost(c *x509.Certificate, h string) {
	if h == "" {
		return
	}
	if ip := net.ParseIP(h); ip != nil {
		c.IPAddresses = append(c.IPAddresses, ip)
		return
	}
	c.DNSNames = append(c.DNSNames, h)
}
