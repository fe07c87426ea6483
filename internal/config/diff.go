package config

// ConfigDiff lists the changes between two loaded configs that can take
// effect without a restart. Provider and storage edits are deliberately
// absent: those rebuild live connections and require a fresh process.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GameChanged covers the gameplay design constants as a block; the
	// runtime swaps the whole GameConfig rather than individual knobs.
	GameChanged bool
	NewGame     GameConfig
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.GameChanged
}

// Diff returns the hot-reloadable changes between old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Game != new.Game {
		d.GameChanged = true
		d.NewGame = new.Game
	}
	return d
}
