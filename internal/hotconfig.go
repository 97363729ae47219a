package internal

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// HotKnobs are the config-file-tunable settings that never gate job
// correctness, only runtime throughput (§6: "idm.yaml... carries defaults
// for hot-tunable knobs only; it is never the source of truth for job
// state").
type HotKnobs struct {
	GlobalSpeedLimit int64 `mapstructure:"global_speed_limit"`
	MaxConcurrent    int   `mapstructure:"max_concurrent"`
}

// WatchHotConfig loads path (if it exists) via viper and invokes onChange
// immediately and on every subsequent write, using fsnotify. A missing
// path is not an error: the engine simply keeps its built-in defaults.
func WatchHotConfig(path string, onChange func(HotKnobs)) error {
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("global_speed_limit", int64(0))
	v.SetDefault("max_concurrent", 4)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return nil
		}
		return err
	}

	apply := func() {
		var knobs HotKnobs
		if err := v.Unmarshal(&knobs); err != nil {
			LogWarn("hot config reload failed: %v", err)
			return
		}
		onChange(knobs)
	}

	apply()

	v.OnConfigChange(func(e fsnotify.Event) {
		LogInfo("config file changed: %s", e.Name)
		apply()
	})
	v.WatchConfig()

	return nil
}
