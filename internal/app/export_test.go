package app

import (
	"github.com/MrWong99/voicebible/internal/command"
	"github.com/MrWong99/voicebible/internal/session"
)

// Dispatcher exposes the command dispatcher to external tests.
func (a *App) Dispatcher() *command.Dispatcher { return a.dispatcher }

// Loop exposes the session loop to external tests.
func (a *App) Loop() *session.Loop { return a.loop }

var LoudnessBar = loudnessBar
