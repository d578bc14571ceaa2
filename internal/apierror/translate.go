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

package apierror

import (
	"errors"
	"strings"
)

// FromRepository translates an error returned by a repository into the
// facade taxonomy. Typed *Error values pass through unchanged. Everything
// else is classified by substring, which mirrors what the SQL drivers
// report. Keeping the substring table in one place is deliberate: it is
// brittle and should eventually be replaced by a typed repository error
// enum, so no other package is allowed to grow its own copy.
func FromRepository(err error, entity, key string) error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "duplicate key"):
		return AlreadyExists(entity, key)
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "no rows"):
		return NotFound(entity, key)
	default:
		return &Error{Kind: KindInternal, Message: err.Error(), cause: err}
	}
}
