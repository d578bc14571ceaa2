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

package main

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// serveContext holds the serve subcommand configuration. Flag values may
// be overridden by the optional YAML configuration file; flags parse
// first, then applyConfigFile layers non-zero file values on top.
type serveContext struct {
	// xds service parameters
	xdsAddr                  string
	xdsPort                  int
	caFile, certFile, keyFile string

	// metrics handling parameters
	metricsAddr string
	metricsPort int

	// debug handler parameters
	debugAddr string
	debugPort int

	logLevel string

	// defaultListener names the deletion-protected gateway listener.
	defaultListener string

	// seedFile optionally points at a JSON document of resources loaded
	// into the repository before the first refresh.
	seedFile string

	configFile string
}

// fileConfig mirrors the serveContext fields settable from the YAML
// configuration file.
type fileConfig struct {
	XDSAddress      string `yaml:"xds-address,omitempty"`
	XDSPort         int    `yaml:"xds-port,omitempty"`
	CAFile          string `yaml:"ca-file,omitempty"`
	CertFile        string `yaml:"cert-file,omitempty"`
	KeyFile         string `yaml:"key-file,omitempty"`
	MetricsAddress  string `yaml:"metrics-address,omitempty"`
	MetricsPort     int    `yaml:"metrics-port,omitempty"`
	LogLevel        string `yaml:"log-level,omitempty"`
	DefaultListener string `yaml:"default-listener,omitempty"`
	SeedFile        string `yaml:"seed-file,omitempty"`
}

func (ctx *serveContext) applyConfigFile() error {
	if ctx.configFile == "" {
		return nil
	}

	raw, err := os.ReadFile(ctx.configFile)
	if err != nil {
		return err
	}
	var cfg fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return fmt.Errorf("%s: %w", ctx.configFile, err)
	}

	if cfg.XDSAddress != "" {
		ctx.xdsAddr = cfg.XDSAddress
	}
	if cfg.XDSPort != 0 {
		ctx.xdsPort = cfg.XDSPort
	}
	if cfg.CAFile != "" {
		ctx.caFile = cfg.CAFile
	}
	if cfg.CertFile != "" {
		ctx.certFile = cfg.CertFile
	}
	if cfg.KeyFile != "" {
		ctx.keyFile = cfg.KeyFile
	}
	if cfg.MetricsAddress != "" {
		ctx.metricsAddr = cfg.MetricsAddress
	}
	if cfg.MetricsPort != 0 {
		ctx.metricsPort = cfg.MetricsPort
	}
	if cfg.LogLevel != "" {
		ctx.logLevel = cfg.LogLevel
	}
	if cfg.DefaultListener != "" {
		ctx.defaultListener = cfg.DefaultListener
	}
	if cfg.SeedFile != "" {
		ctx.seedFile = cfg.SeedFile
	}
	return nil
}

// tlsconfig returns a *tls.Config for serving gRPC over TLS, or nil when
// TLS is not configured. Either all three of ca-file, cert-file and
// key-file are set, or none of them.
func (ctx *serveContext) tlsconfig() (*tls.Config, error) {
	if ctx.caFile == "" && ctx.certFile == "" && ctx.keyFile == "" {
		return nil, nil
	}
	if ctx.caFile == "" || ctx.certFile == "" || ctx.keyFile == "" {
		return nil, fmt.Errorf("supply all of --ca-file, --cert-file and --key-file, or none of them")
	}

	cert, err := tls.LoadX509KeyPair(ctx.certFile, ctx.keyFile)
	if err != nil {
		return nil, err
	}
	ca, err := os.ReadFile(ctx.caFile)
	if err != nil {
		return nil, err
	}
	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("unable to append certificate in %s to CA pool", ctx.caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    certPool,
		Rand:         rand.Reader,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
