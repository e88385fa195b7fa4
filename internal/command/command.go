// Package command interprets recognised utterances and advances the session
// state.
//
// Matching is substring containment over lower-cased text with a fixed
// priority: wake phrase, exit phrase, "read", "pause". The first rule that
// matches wins. The [State] value is owned by the caller and passed in and out
// of [Dispatcher.Dispatch] explicitly; the dispatcher itself only holds the
// configured phrases.
package command

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Mode is the reading mode of a session.
type Mode int

const (
	ModeIdle Mode = iota
	ModeReading
	ModePaused
	ModeEnded
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeReading:
		return "reading"
	case ModePaused:
		return "paused"
	case ModeEnded:
		return "ended"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the session state threaded through the listening loop.
type State struct {
	// Active is true until the exit phrase is heard. It never becomes true
	// again.
	Active bool
	Mode   Mode
}

// NewState returns the initial state of a session.
func NewState() State {
	return State{Active: true, Mode: ModeIdle}
}

// Terminal reports whether the state accepts no further commands.
func (s State) Terminal() bool {
	return !s.Active || s.Mode == ModeEnded
}

// Action identifies what a dispatch did.
type Action int

const (
	ActionNone Action = iota
	ActionAcknowledge
	ActionEnd
	ActionRead
	ActionPause
	ActionUnrecognized
)

// String returns the lower-case action name, used as a metric attribute.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAcknowledge:
		return "acknowledge"
	case ActionEnd:
		return "end"
	case ActionRead:
		return "read"
	case ActionPause:
		return "pause"
	case ActionUnrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Outcome is the result of one dispatch. Reply is empty for ActionNone.
type Outcome struct {
	Action Action
	Reply  string
}

// Default phrases and keywords.
const (
	DefaultWakePhrase = "hey bible"
	DefaultExitPhrase = "stop"

	readKeyword  = "read"
	pauseKeyword = "pause"
)

// Replies holds the spoken line for every action except ActionNone.
type Replies struct {
	Acknowledge  string
	End          string
	Read         string
	Pause        string
	Unrecognized string
}

// DefaultReplies returns the built-in reply lines.
func DefaultReplies() Replies {
	return Replies{
		Acknowledge:  "Yes, I'm listening.",
		End:          "Goodbye, God bless you.",
		Read:         "I'll read continuously until you say pause or stop.",
		Pause:        "Paused reading.",
		Unrecognized: "I didn't quite get that.",
	}
}

// Config configures a Dispatcher.
type Config struct {
	// WakePhrase acknowledges the listener. Default "hey bible".
	WakePhrase string

	// ExitPhrase ends the session. Default "stop".
	ExitPhrase string

	// FuzzyWakeThreshold enables phonetic wake matching when in (0, 1].
	// Zero disables it.
	FuzzyWakeThreshold float64
}

// Option is a functional option for [New].
type Option func(*Dispatcher)

// WithReplies overrides the reply lines. Empty fields keep their defaults.
func WithReplies(r Replies) Option {
	return func(d *Dispatcher) {
		def := d.replies
		if r.Acknowledge == "" {
			r.Acknowledge = def.Acknowledge
		}
		if r.End == "" {
			r.End = def.End
		}
		if r.Read == "" {
			r.Read = def.Read
		}
		if r.Pause == "" {
			r.Pause = def.Pause
		}
		if r.Unrecognized == "" {
			r.Unrecognized = def.Unrecognized
		}
		d.replies = r
	}
}

// Dispatcher maps command text to state transitions. Its phrases can be
// replaced at runtime; all methods are safe for concurrent use.
type Dispatcher struct {
	replies Replies

	mu    sync.RWMutex
	wake  string
	exit  string
	fuzzy *wakeMatcher
}

// New creates a Dispatcher. Empty phrases fall back to the defaults.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{replies: DefaultReplies()}
	wake, exit := cfg.WakePhrase, cfg.ExitPhrase
	if strings.TrimSpace(wake) == "" {
		wake = DefaultWakePhrase
	}
	if strings.TrimSpace(exit) == "" {
		exit = DefaultExitPhrase
	}
	if err := d.SetPhrases(wake, exit); err != nil {
		return nil, err
	}
	if err := d.SetFuzzyWakeThreshold(cfg.FuzzyWakeThreshold); err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SetPhrases replaces the wake and exit phrases.
func (d *Dispatcher) SetPhrases(wake, exit string) error {
	wake = normalise(wake)
	exit = normalise(exit)
	var errs []error
	if wake == "" {
		errs = append(errs, errors.New("command: wake phrase must not be empty"))
	}
	if exit == "" {
		errs = append(errs, errors.New("command: exit phrase must not be empty"))
	}
	if wake != "" && wake == exit {
		errs = append(errs, fmt.Errorf("command: wake and exit phrase must differ, both are %q", wake))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.wake = wake
	d.exit = exit
	if d.fuzzy != nil {
		d.fuzzy = newWakeMatcher(wake, d.fuzzy.threshold)
	}
	return nil
}

// SetFuzzyWakeThreshold enables phonetic wake matching for thresholds in
// (0, 1] and disables it for zero.
func (d *Dispatcher) SetFuzzyWakeThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("command: fuzzy wake threshold must be in [0, 1], got %g", threshold)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if threshold == 0 {
		d.fuzzy = nil
		return nil
	}
	d.fuzzy = newWakeMatcher(d.wake, threshold)
	return nil
}

// Phrases returns the current wake and exit phrases.
func (d *Dispatcher) Phrases() (wake, exit string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wake, d.exit
}

// Keywords returns the vocabulary worth biasing a recogniser towards.
func (d *Dispatcher) Keywords() []string {
	wake, exit := d.Phrases()
	return []string{wake, exit, readKeyword, pauseKeyword}
}

// Dispatch interprets text against s and returns the next state and the
// outcome. A terminal state and empty text both yield ActionNone with s
// unchanged.
func (d *Dispatcher) Dispatch(s State, text string) (State, Outcome) {
	if s.Terminal() {
		return s, Outcome{Action: ActionNone}
	}
	text = normalise(text)
	if text == "" {
		return s, Outcome{Action: ActionNone}
	}

	d.mu.RLock()
	wake, exit, fuzzy := d.wake, d.exit, d.fuzzy
	d.mu.RUnlock()

	switch {
	case strings.Contains(text, wake) || (fuzzy != nil && fuzzy.match(text)):
		return s, Outcome{Action: ActionAcknowledge, Reply: d.replies.Acknowledge}
	case strings.Contains(text, exit):
		return State{Active: false, Mode: ModeEnded}, Outcome{Action: ActionEnd, Reply: d.replies.End}
	case strings.Contains(text, readKeyword):
		s.Mode = ModeReading
		return s, Outcome{Action: ActionRead, Reply: d.replies.Read}
	case strings.Contains(text, pauseKeyword):
		s.Mode = ModePaused
		return s, Outcome{Action: ActionPause, Reply: d.replies.Pause}
	default:
		return s, Outcome{Action: ActionUnrecognized, Reply: d.replies.Unrecognized}
	}
}

func normalise(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
