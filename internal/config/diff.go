package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ContentChanged is true when assets, texts or game settings differ.
	// Content applies from the next session start.
	ContentChanged bool

	// Restart lists the changed sections that only take effect after a
	// restart.
	Restart []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ContentChanged && len(d.Restart) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ContentChanged = !reflect.DeepEqual(old.Assets, new.Assets) ||
		old.Texts != new.Texts ||
		old.Game != new.Game

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	sections := []struct {
		name    string
		changed bool
	}{
		{"server", !reflect.DeepEqual(oldServer, newServer)},
		{"telemetry", !reflect.DeepEqual(old.Telemetry, new.Telemetry)},
		{"boundary", !reflect.DeepEqual(old.Boundary, new.Boundary)},
		{"audio", old.Audio != new.Audio},
		{"vad", old.VAD != new.VAD},
		{"media", old.Media != new.Media},
	}
	for _, s := range sections {
		if s.changed {
			d.Restart = append(d.Restart, s.name)
		}
	}
	return d
}
