package config

import (
	"os"
	"path/filepath"

	"github.com/kkyr/fig"
)

const EnvPrefix = "FRAMEPUMP"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom folder of the config.yaml file.
// Reads and puts environment variables with the prefix FRAMEPUMP_.
// Params from the config should be in uppercase separated with _,
// i.e. FRAMEPUMP_PLAYBACK_MAXQUEUED.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, filepath.Join(home, ".framepump"))
		}
	}
	if err := fig.Load(config, fig.Dirs(dirs...), fig.UseEnv(EnvPrefix)); err != nil {
		return err
	}
	return nil
}
