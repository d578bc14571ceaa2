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

import "strings"

// shortIDLen is how many alphanumeric characters of a row id survive into
// generated resource names. Collisions are possible but vanishingly rare
// at control-plane scale.
const shortIDLen = 12

// ShortID reduces a row id to its first 12 alphanumeric characters.
func ShortID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			if b.Len() == shortIDLen {
				return b.String()
			}
		}
	}
	return b.String()
}

// PlatformRouteConfigName is the synthetic route config name emitted for
// an API definition during refresh.
func PlatformRouteConfigName(definitionID string) string {
	return "platform-api-" + ShortID(definitionID)
}

// PlatformClusterName names the cluster synthesised for one unique
// upstream endpoint of an API definition.
func PlatformClusterName(definitionID, endpoint string) string {
	sanitized := strings.NewReplacer(".", "-", ":", "-").Replace(endpoint)
	return "platform-" + ShortID(definitionID) + "-" + sanitized
}
