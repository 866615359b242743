// SPDX-License-Identifier: EPL-2.0

package plugins

import "errors"

var (
	ErrTooLarge     = errors.New("plugin is too big")
	ErrNotJS        = errors.New("expecting a JavaScript (.js) file")
	ErrNotFound     = errors.New("plugin not found")
	ErrNoHooks      = errors.New("plugin name is taken and no confirmation hooks were given")
	ErrInvalidName  = errors.New("invalid plugin name")
	ErrUnknownReply = errors.New("unknown replace confirmation")
)
