// SPDX-License-Identifier: EPL-2.0

package conf

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("datadir", defaultDataDir())

	v.SetDefault("storage.path", "sampleprep.db")

	v.SetDefault("audio.samplerate", 31250)

	v.SetDefault("cache.maxpreviews", 10)

	v.SetDefault("sources.maxcached", 10)
	v.SetDefault("sources.fetchtimeout", 30*time.Second)
	v.SetDefault("sources.baseurl", "")

	v.SetDefault("sandbox.command", "node")
	// no args: node runs the built-in plugin runner
	v.SetDefault("sandbox.args", []string{})
	v.SetDefault("sandbox.acktimeout", 2*time.Second)
	v.SetDefault("sandbox.installtimeout", 5*time.Second)
	v.SetDefault("sandbox.runtimeoutpersecond", 5*time.Second)
	v.SetDefault("sandbox.minruntimeout", time.Second)
	v.SetDefault("sandbox.maxpluginsize", 5*1024*1024)

	v.SetDefault("tabsync.dir", "")

	v.SetDefault("transfer.command", "syro-encode")
	v.SetDefault("transfer.args", []string{})
	v.SetDefault("transfer.progressinterval", 16*time.Millisecond)
	v.SetDefault("transfer.workers", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxsizemb", 10)
	v.SetDefault("log.maxbackups", 3)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
}
