// SPDX-License-Identifier: EPL-2.0

package pipeline

import "fmt"

// PluginRunError reports the chain position of the plugin that failed.
// Plugins after Index did not run.
type PluginRunError struct {
	Index  int
	Plugin string
	Err    error
}

func (e *PluginRunError) Error() string {
	return fmt.Sprintf("plugin %d (%s): %v", e.Index, e.Plugin, e.Err)
}

func (e *PluginRunError) Unwrap() error { return e.Err }
