// SPDX-License-Identifier: EPL-2.0

package library

import "errors"

var (
	ErrNotFound    = errors.New("sample not found")
	ErrNotExternal = errors.New("source is not an external url")
	ErrBadArchive  = errors.New("not a sample archive")
)
