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

package filters

// builtinSchemas returns the filter schemas compiled into the binary.
// User-defined filters are registered separately through the generic
// schema-driven path.
func builtinSchemas() []*Schema {
	return []*Schema{
		corsSchema(),
		extAuthzSchema(),
		localRateLimitSchema(),
		compressorSchema(),
		headerMutationSchema(),
		customResponseSchema(),
		rbacSchema(),
		oauth2Schema(),
		wasmSchema(),
		mcpSchema(),
		jwtSchema(),
	}
}
