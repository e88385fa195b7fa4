package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. The first group of
// fields can be applied to a running session; RestartRequired lists the
// top-level sections whose changes only take effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PhrasesChanged is set when the wake or exit phrase changed.
	PhrasesChanged bool
	WakePhrase     string
	ExitPhrase     string

	FuzzyThresholdChanged bool
	NewFuzzyThreshold     float64

	CooldownChanged bool
	NewCooldown     time.Duration

	RestartRequired []string
}

// Empty reports whether nothing changed at all.
func (d ConfigDiff) Empty() bool {
	return !d.HotReloadable() && len(d.RestartRequired) == 0
}

// HotReloadable reports whether any change can be applied without restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.PhrasesChanged || d.FuzzyThresholdChanged || d.CooldownChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Commands.WakePhrase != new.Commands.WakePhrase || old.Commands.ExitPhrase != new.Commands.ExitPhrase {
		d.PhrasesChanged = true
		d.WakePhrase = new.Commands.WakePhrase
		d.ExitPhrase = new.Commands.ExitPhrase
	}

	if old.Commands.FuzzyWakeThreshold != new.Commands.FuzzyWakeThreshold {
		d.FuzzyThresholdChanged = true
		d.NewFuzzyThreshold = new.Commands.FuzzyWakeThreshold
	}

	if old.Listen.Cooldown != new.Listen.Cooldown {
		d.CooldownChanged = true
		d.NewCooldown = new.Listen.Cooldown
	}

	// Everything else needs a restart. Mask the hot fields before comparing.
	oldListen, newListen := old.Listen, new.Listen
	oldListen.Cooldown, newListen.Cooldown = 0, 0
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.VAD != new.VAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if oldListen != newListen {
		d.RestartRequired = append(d.RestartRequired, "listen")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	return d
}
