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

// Package httpsvc provides a HTTP/1.x Service suitable for running under a
// workgroup.
package httpsvc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Service is a HTTP/1.x endpoint. Register handlers on the embedded
// ServeMux before calling Start.
type Service struct {
	Addr string
	Port int

	// TLS parameters
	CABundle string
	Cert     string
	Key      string

	logrus.FieldLogger
	http.ServeMux
}

// Start runs the server until the context is cancelled, then shuts it
// down with a short grace period.
func (svc *Service) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			svc.WithError(err).Error("terminated HTTP server with error")
		} else {
			svc.Info("stopped HTTP server")
		}
	}()

	// If any TLS parameter is set, at least the server certificate and key
	// must be set.
	if (svc.Cert != "" || svc.Key != "" || svc.CABundle != "") &&
		(svc.Cert == "" || svc.Key == "") {
		return fmt.Errorf("supply at least the server certificate and key TLS parameters, or none of them")
	}

	var tlsConfig *tls.Config
	if svc.Cert != "" && svc.Key != "" {
		tlsConfig, err = svc.tlsConfig()
		if err != nil {
			return err
		}
	}

	s := http.Server{
		Addr:              net.JoinHostPort(svc.Addr, strconv.Itoa(svc.Port)),
		Handler:           &svc.ServeMux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // To mitigate Slowloris attacks: https://www.cloudflare.com/learning/ddos/ddos-attack-tools/slowloris/
		WriteTimeout:      5 * time.Minute,  // allow for long trace requests
		MaxHeaderBytes:    1 << 11,          // 8kb should be enough for anyone
		TLSConfig:         tlsConfig,
	}

	go func() {
		// wait for stop signal from group.
		<-ctx.Done()

		// shutdown the server with 5 seconds grace.
		ctx := context.Background()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx) // ignored, will always be a cancellation error
	}()

	if s.TLSConfig != nil {
		svc.WithField("address", s.Addr).Info("started HTTPS server")
		err = s.ListenAndServeTLS(svc.Cert, svc.Key)
	} else {
		svc.WithField("address", s.Addr).Info("started HTTP server")
		err = s.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}

func (svc *Service) tlsConfig() (*tls.Config, error) {
	// Load certificates and key lazily at TLS handshake so rotated
	// certificates are picked up without a restart.
	loadConfig := func() (*tls.Config, error) {
		cert, err := tls.LoadX509KeyPair(svc.Cert, svc.Key)
		if err != nil {
			return nil, err
		}

		clientAuth := tls.NoClientCert
		var certPool *x509.CertPool
		if svc.CABundle != "" {
			clientAuth = tls.RequireAndVerifyClientCert
			ca, err := os.ReadFile(svc.CABundle)
			if err != nil {
				return nil, err
			}

			certPool = x509.NewCertPool()
			if ok := certPool.AppendCertsFromPEM(ca); !ok {
				return nil, fmt.Errorf("unable to append certificate in %s to CA pool", svc.CABundle)
			}
		}

		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   clientAuth,
			ClientCAs:    certPool,
			MinVersion:   tls.VersionTLS13,
		}, nil
	}

	// Attempt to load certificates and key to catch configuration errors early.
	if _, err := loadConfig(); err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			return loadConfig()
		},
	}, nil
}
