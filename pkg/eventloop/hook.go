package eventloop

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/go-delve/onbreak/pkg/logflags"
	"github.com/go-delve/onbreak/pkg/target"
)

// Launcher starts the reaction to a breakpoint hit without waiting for
// it.
type Launcher interface {
	Launch() error
}

// VariableReader reads the variables visible where an event happened.
type VariableReader interface {
	Variables(ev target.Event) ([]target.Variable, error)
}

// Hook is the Handler run on breakpoint hits: it launches the reaction
// and logs the string variables of the topmost frame.
type Hook struct {
	location target.Location
	vars     VariableReader
	launcher Launcher
	log      logflags.Logger
}

// NewHook returns a Hook for events at loc.
func NewHook(loc target.Location, vars VariableReader, launcher Launcher) *Hook {
	return &Hook{
		location: loc,
		vars:     vars,
		launcher: launcher,
		log:      logflags.EventLoopLogger(),
	}
}

// SetLogger replaces the logger of the hook.
func (h *Hook) SetLogger(log logflags.Logger) {
	h.log = log
}

func (h *Hook) Handle(ev target.Event) error {
	if !h.location.Contains(ev.PC) {
		h.log.Debugf("ignoring event at %#x, not at %s", ev.PC, h.location)
		return nil
	}
	log := h.log.WithField("hit", uuid.NewString())
	log.Infof("Breakpoint hit at %s (goroutine %d)", h.location, ev.GoroutineID)

	if err := h.launcher.Launch(); err != nil {
		log.Warnf("reaction not launched: %v", err)
	}

	vars, err := h.vars.Variables(ev)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if v.Kind != reflect.String || v.Unreadable != "" {
			continue
		}
		log.Infof("%s = '%s'", v.Name, v.Value)
	}
	return nil
}
