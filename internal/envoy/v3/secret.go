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

package v3

import (
	"encoding/base64"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_transport_socket_tls_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/transport_sockets/tls/v3"
	envoy_matcher_v3 "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"
	"github.com/pkg/errors"

	"github.com/flowplane/flowplane/internal/model"
)

// Secret compiles a stored secret into the SDS wire form. Inline payloads
// are base64 in the model; validation has already checked they decode, so a
// decode failure here is a data corruption error.
func Secret(s *model.Secret) (*envoy_transport_socket_tls_v3.Secret, error) {
	out := &envoy_transport_socket_tls_v3.Secret{Name: s.Name}

	switch s.Type {
	case model.SecretGeneric:
		data, err := decode(s.Config.Generic.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "secret %q", s.Name)
		}
		out.Type = &envoy_transport_socket_tls_v3.Secret_GenericSecret{
			GenericSecret: &envoy_transport_socket_tls_v3.GenericSecret{
				Secret: inlineBytes(data),
			},
		}
	case model.SecretTLSCertificate:
		chain, err := decode(s.Config.TLSCertificate.CertificateChain)
		if err != nil {
			return nil, errors.Wrapf(err, "secret %q certificate chain", s.Name)
		}
		key, err := decode(s.Config.TLSCertificate.PrivateKey)
		if err != nil {
			return nil, errors.Wrapf(err, "secret %q private key", s.Name)
		}
		out.Type = &envoy_transport_socket_tls_v3.Secret_TlsCertificate{
			TlsCertificate: &envoy_transport_socket_tls_v3.TlsCertificate{
				CertificateChain: inlineBytes(chain),
				PrivateKey:       inlineBytes(key),
			},
		}
	case model.SecretValidationContext:
		ca, err := decode(s.Config.ValidationContext.TrustedCA)
		if err != nil {
			return nil, errors.Wrapf(err, "secret %q trusted CA", s.Name)
		}
		vc := &envoy_transport_socket_tls_v3.CertificateValidationContext{
			TrustedCa: inlineBytes(ca),
		}
		for _, san := range s.Config.ValidationContext.SubjectAltNames {
			vc.MatchTypedSubjectAltNames = append(vc.MatchTypedSubjectAltNames,
				&envoy_transport_socket_tls_v3.SubjectAltNameMatcher{
					SanType: envoy_transport_socket_tls_v3.SubjectAltNameMatcher_DNS,
					Matcher: &envoy_matcher_v3.StringMatcher{
						MatchPattern: &envoy_matcher_v3.StringMatcher_Exact{Exact: san},
					},
				})
		}
		out.Type = &envoy_transport_socket_tls_v3.Secret_ValidationContext{
			ValidationContext: vc,
		}
	case model.SecretSessionTicketKeys:
		keys := &envoy_transport_socket_tls_v3.TlsSessionTicketKeys{}
		for i, key := range s.Config.SessionTicketKeys.Keys {
			decoded, err := decode(key)
			if err != nil {
				return nil, errors.Wrapf(err, "secret %q key %d", s.Name, i)
			}
			keys.Keys = append(keys.Keys, inlineBytes(decoded))
		}
		out.Type = &envoy_transport_socket_tls_v3.Secret_SessionTicketKeys{
			SessionTicketKeys: keys,
		}
	default:
		return nil, errors.Errorf("secret %q has unsupported type %q", s.Name, s.Type)
	}
	return out, nil
}

func decode(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

func inlineBytes(data []byte) *envoy_config_core_v3.DataSource {
	return &envoy_config_core_v3.DataSource{
		Specifier: &envoy_config_core_v3.DataSource_InlineBytes{
			InlineBytes: data,
		},
	}
}
