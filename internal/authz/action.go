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

package authz

import "strings"

// Actions derived from HTTP methods.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// ActionForRequest maps an HTTP method and path to the authorization
// action. Read-only verbs map to read, everything else to write, except
// that export, compare, search and query endpoints are reads regardless of
// method (they are POSTed for payload size, not for mutation).
func ActionForRequest(method, path string) string {
	if isReadPath(path) {
		return ActionRead
	}
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return ActionRead
	default:
		return ActionWrite
	}
}

func isReadPath(path string) bool {
	path = strings.TrimSuffix(path, "/")
	if strings.HasSuffix(path, "/export") || strings.HasSuffix(path, "/compare") {
		return true
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "search" || segment == "query" {
			return true
		}
	}
	return false
}
