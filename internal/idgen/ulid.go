// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package idgen

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewOperatorID returns a new lowercase ULID. It is safe for concurrent use
// and is what namespaces one sort operator's run files in shared temp storage.
func NewOperatorID() string {
	return strings.ToLower(ulid.Make().String())
}
