package config

import (
	"fmt"

	"coinwatch/pkg/confkit"
	feedpkg "coinwatch/pkg/feed"
)

// MustLoadFeed loads etc/feeds.yaml from the project root and panics on
// error. It isolates feed config so tests that only need source definitions
// do not have to stand up the full service config.
func MustLoadFeed() *feedpkg.Config {
	path := confkit.MustProjectPath("etc/feeds.yaml")
	cfg, err := feedpkg.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load feed config %s: %w", path, err))
	}
	return cfg
}
