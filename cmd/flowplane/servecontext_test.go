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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyConfigFileOverridesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("xds-port: 9001\nlog-level: debug\n"), 0o600))

	ctx := &serveContext{
		configFile: path,
		xdsAddr:    "127.0.0.1",
		xdsPort:    8001,
		logLevel:   "info",
	}
	require.NoError(t, ctx.applyConfigFile())

	assert.Equal(t, 9001, ctx.xdsPort)
	assert.Equal(t, "debug", ctx.logLevel)
	// Values absent from the file keep their flag defaults.
	assert.Equal(t, "127.0.0.1", ctx.xdsAddr)
}

func TestApplyConfigFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no-such-key: true\n"), 0o600))

	ctx := &serveContext{configFile: path}
	assert.Error(t, ctx.applyConfigFile())
}

func TestApplyConfigFileMissing(t *testing.T) {
	ctx := &serveContext{}
	assert.NoError(t, ctx.applyConfigFile())
}

func TestTLSConfig(t *testing.T) {
	ctx := &serveContext{}
	cfg, err := ctx.tlsconfig()
	require.NoError(t, err)
	assert.Nil(t, cfg, "tls disabled when no files are supplied")

	ctx.caFile = "ca.pem"
	_, err = ctx.tlsconfig()
	assert.Error(t, err, "partial tls configuration must be refused")
}
