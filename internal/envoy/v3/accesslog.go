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
	envoy_config_accesslog_v3 "github.com/envoyproxy/go-control-plane/envoy/config/accesslog/v3"
	envoy_file_access_log_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/access_loggers/file/v3"

	"github.com/flowplane/flowplane/internal/protobuf"
)

// FileAccessLogEnvoy returns a single-entry access log slice writing the
// default Envoy format to the given path, or nil when path is empty.
func FileAccessLogEnvoy(path string) []*envoy_config_accesslog_v3.AccessLog {
	if path == "" {
		return nil
	}
	return []*envoy_config_accesslog_v3.AccessLog{{
		Name: "envoy.access_loggers.file",
		ConfigType: &envoy_config_accesslog_v3.AccessLog_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(&envoy_file_access_log_v3.FileAccessLog{
				Path: path,
			}),
		},
	}}
}
