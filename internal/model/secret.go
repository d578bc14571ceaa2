// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"encoding/base64"

	"github.com/flowplane/flowplane/internal/apierror"
)

// SecretType enumerates the supported Envoy secret kinds.
type SecretType string

const (
	SecretGeneric           SecretType = "GenericSecret"
	SecretTLSCertificate    SecretType = "TlsCertificate"
	SecretValidationContext SecretType = "CertificateValidationContext"
	SecretSessionTicketKeys SecretType = "SessionTicketKeys"
)

// sessionTicketKeyLen is the exact decoded length Envoy requires for each
// session ticket key.
const sessionTicketKeyLen = 80

// Secret is a stored secret row. Inline byte payloads are carried base64
// encoded in the configuration.
type Secret struct {
	ID     string
	Name   string
	Type   SecretType
	Team   string
	Config SecretConfig
}

// SecretConfig is a closed variant keyed by the secret type.
type SecretConfig struct {
	Generic           *GenericSecretConfig     `json:"generic,omitempty"`
	TLSCertificate    *TLSCertificateConfig    `json:"tls_certificate,omitempty"`
	ValidationContext *ValidationContextConfig `json:"validation_context,omitempty"`
	SessionTicketKeys *SessionTicketKeysConfig `json:"session_ticket_keys,omitempty"`
}

type GenericSecretConfig struct {
	Data string `json:"data"` // base64
}

type TLSCertificateConfig struct {
	CertificateChain string `json:"certificate_chain"` // base64 PEM
	PrivateKey       string `json:"private_key"`       // base64 PEM
}

type ValidationContextConfig struct {
	TrustedCA     string   `json:"trusted_ca"` // base64 PEM
	SubjectAltNames []string `json:"subject_alt_names,omitempty"`
}

type SessionTicketKeysConfig struct {
	Keys []string `json:"keys"` // base64, each exactly 80 bytes decoded
}

// Validate checks the secret invariants, including the 80-byte session
// ticket key rule.
func (s *Secret) Validate() error {
	if err := requireName("secret", s.Name); err != nil {
		return err
	}

	switch s.Type {
	case SecretGeneric:
		if s.Config.Generic == nil {
			return apierror.Validationf("secret %q requires generic configuration", s.Name)
		}
		if _, err := base64.StdEncoding.DecodeString(s.Config.Generic.Data); err != nil {
			return apierror.Validationf("secret %q data is not valid base64", s.Name)
		}
	case SecretTLSCertificate:
		cfg := s.Config.TLSCertificate
		if cfg == nil || cfg.CertificateChain == "" || cfg.PrivateKey == "" {
			return apierror.Validationf("secret %q requires a certificate chain and private key", s.Name)
		}
		if _, err := base64.StdEncoding.DecodeString(cfg.CertificateChain); err != nil {
			return apierror.Validationf("secret %q certificate chain is not valid base64", s.Name)
		}
		if _, err := base64.StdEncoding.DecodeString(cfg.PrivateKey); err != nil {
			return apierror.Validationf("secret %q private key is not valid base64", s.Name)
		}
	case SecretValidationContext:
		cfg := s.Config.ValidationContext
		if cfg == nil || cfg.TrustedCA == "" {
			return apierror.Validationf("secret %q requires a trusted CA", s.Name)
		}
		if _, err := base64.StdEncoding.DecodeString(cfg.TrustedCA); err != nil {
			return apierror.Validationf("secret %q trusted CA is not valid base64", s.Name)
		}
	case SecretSessionTicketKeys:
		cfg := s.Config.SessionTicketKeys
		if cfg == nil || len(cfg.Keys) == 0 {
			return apierror.Validationf("secret %q requires at least one session ticket key", s.Name)
		}
		for i, key := range cfg.Keys {
			decoded, err := base64.StdEncoding.DecodeString(key)
			if err != nil {
				return apierror.Validationf("secret %q key %d is not valid base64", s.Name, i)
			}
			if len(decoded) != sessionTicketKeyLen {
				return apierror.Validationf("secret %q key %d must decode to exactly %d bytes, got %d", s.Name, i, sessionTicketKeyLen, len(decoded))
			}
		}
	default:
		return apierror.Validationf("secret type %q is not supported", s.Type)
	}
	return nil
}
