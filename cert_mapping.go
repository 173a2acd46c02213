// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// CertMapType selects how a DTLS peer certificate is turned into a TSM
// securityName (RFC 6353 section 5.3.2, snmpTlstmCertToTSNMIdentities).
type CertMapType int

const (
	// CertMapSpecified maps a certificate fingerprint to a configured name.
	CertMapSpecified CertMapType = iota
	// CertMapSANRFC822 uses the first rfc822Name; the host part is lowercased.
	CertMapSANRFC822
	// CertMapSANDNSName uses the first dNSName, lowercased.
	CertMapSANDNSName
	// CertMapSANIPAddress uses the first iPAddress.
	CertMapSANIPAddress
	// CertMapSANAny tries rfc822Name, dNSName then iPAddress.
	CertMapSANAny
	// CertMapCommonName uses the subject CN.
	CertMapCommonName
)

func (t CertMapType) String() string {
	switch t {
	case CertMapSpecified:
		return "specified"
	case CertMapSANRFC822:
		return "san-rfc822"
	case CertMapSANDNSName:
		return "san-dns"
	case CertMapSANIPAddress:
		return "san-ip"
	case CertMapSANAny:
		return "san-any"
	case CertMapCommonName:
		return "common-name"
	}
	return fmt.Sprintf("CertMapType(%d)", int(t))
}

// CertMapping is one row of the certificate to securityName table. Only
// CertMapSpecified rows use Fingerprint, Hash and SecurityName.
type CertMapping struct {
	Type         CertMapType
	Fingerprint  []byte
	Hash         crypto.Hash // zero means SHA-256
	SecurityName string
}

// ErrNoCertMapping is returned when no mapping matches the certificate.
var ErrNoCertMapping = errors.New("no matching certificate mapping")

// SnmpTLSFingerprint hash identifiers (RFC 5246 HashAlgorithm).
var tlsHashAlgorithms = map[byte]crypto.Hash{
	1: crypto.MD5,
	2: crypto.SHA1,
	3: crypto.SHA224,
	4: crypto.SHA256,
	5: crypto.SHA384,
	6: crypto.SHA512,
}

// ParseTLSFingerprint reads an SnmpTLSFingerprint as printed by net-snmp
// and RFC 6353 (hash identifier octet followed by the digest, in hex with
// optional ':' separators) into a CertMapSpecified mapping.
func ParseTLSFingerprint(text, securityName string) (CertMapping, error) {
	raw, err := hex.DecodeString(strings.NewReplacer(":", "", " ", "").Replace(text))
	if err != nil {
		return CertMapping{}, newError(CodeParam, "parse fingerprint", err)
	}
	if len(raw) < 2 {
		return CertMapping{}, errorf(CodeParam, "parse fingerprint", "fingerprint %q too short", text)
	}
	h, ok := tlsHashAlgorithms[raw[0]]
	if !ok {
		return CertMapping{}, errorf(CodeParam, "parse fingerprint", "unknown hash identifier %d", raw[0])
	}
	if len(raw)-1 != h.Size() {
		return CertMapping{}, errorf(CodeParam, "parse fingerprint", "%s digest must be %d bytes, got %d", h, h.Size(), len(raw)-1)
	}
	return CertMapping{Type: CertMapSpecified, Fingerprint: raw[1:], Hash: h, SecurityName: securityName}, nil
}

// CertFingerprint hashes the DER certificate. A zero hash means SHA-256.
func CertFingerprint(cert *x509.Certificate, h crypto.Hash) []byte {
	if h == 0 {
		h = crypto.SHA256
	}
	d := h.New()
	d.Write(cert.Raw)
	return d.Sum(nil)
}

// ExtractSecurityName derives the securityName for a peer. Mappings are
// tried in order and, per RFC 6353, each mapping is tried against every
// certificate of the chain before moving to the next mapping.
func ExtractSecurityName(chain []*x509.Certificate, mappings []CertMapping) (string, error) {
	if len(chain) == 0 || chain[0] == nil {
		return "", errors.New("no peer certificate")
	}
	for _, m := range mappings {
		for _, cert := range chain {
			if cert == nil {
				continue
			}
			if name, ok := m.apply(cert); ok {
				return name, nil
			}
		}
	}
	return "", ErrNoCertMapping
}

func (m CertMapping) apply(cert *x509.Certificate) (string, bool) {
	switch m.Type {
	case CertMapSpecified:
		if bytes.Equal(CertFingerprint(cert, m.Hash), m.Fingerprint) {
			return m.SecurityName, true
		}
	case CertMapSANRFC822:
		return firstEmail(cert)
	case CertMapSANDNSName:
		return firstDNSName(cert)
	case CertMapSANIPAddress:
		return firstIP(cert)
	case CertMapSANAny:
		for _, f := range []func(*x509.Certificate) (string, bool){firstEmail, firstDNSName, firstIP} {
			if name, ok := f(cert); ok {
				return name, true
			}
		}
	case CertMapCommonName:
		if cert.Subject.CommonName != "" {
			return cert.Subject.CommonName, true
		}
	}
	return "", false
}

// firstEmail lowercases only the host part of the address.
func firstEmail(cert *x509.Certificate) (string, bool) {
	if len(cert.EmailAddresses) == 0 {
		return "", false
	}
	local, host, ok := strings.Cut(cert.EmailAddresses[0], "@")
	if !ok {
		return cert.EmailAddresses[0], true
	}
	return local + "@" + strings.ToLower(host), true
}

func firstDNSName(cert *x509.Certificate) (string, bool) {
	if len(cert.DNSNames) == 0 {
		return "", false
	}
	return strings.ToLower(cert.DNSNames[0]), true
}

func firstIP(cert *x509.Certificate) (string, bool) {
	if len(cert.IPAddresses) == 0 {
		return "", false
	}
	return cert.IPAddresses[0].String(), true
}
