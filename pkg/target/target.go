package target

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
)

var (
	// ErrNotFound is returned when a breakpoint spec does not match any
	// method of any loaded type.
	ErrNotFound = errors.New("breakpoint location not found")
	// ErrNoTransport is returned when no connector can attach through a
	// socket.
	ErrNoTransport = errors.New("no socket attach transport available")
	// ErrAbsentInformation is returned when the target has no symbol or
	// debug information for the location where it stopped.
	ErrAbsentInformation = errors.New("absent debug information")
	// ErrTargetExited is returned by the event queue once the target
	// process has exited.
	ErrTargetExited = errors.New("target process exited")
)

// Ref contains the coordinates of the debug server the target is
// attached to.
type Ref struct {
	Host string
	Port string
}

// ParseRef parses a "host:port" string.
func ParseRef(s string) (Ref, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid address %q: %v", s, err)
	}
	if host == "" || port == "" {
		return Ref{}, fmt.Errorf("invalid address %q: host and port are required", s)
	}
	return Ref{Host: host, Port: port}, nil
}

// Addr returns the address in a form suitable for net.Dial.
func (r Ref) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

func (r Ref) String() string {
	return r.Addr()
}

// BreakpointSpec identifies a method by the fully qualified name of its
// receiver type and by its name.
type BreakpointSpec struct {
	Type   string
	Method string
}

// ParseBreakpointSpec splits s on its last '.', the part before it is
// the type and the part after it the method:
//
//	github.com/org/app/pkg.Server.handle -> {github.com/org/app/pkg.Server, handle}
func ParseBreakpointSpec(s string) (BreakpointSpec, error) {
	i := strings.LastIndex(s, ".")
	if i < 0 {
		return BreakpointSpec{}, fmt.Errorf("invalid breakpoint %q: expected package.Type.method", s)
	}
	spec := BreakpointSpec{Type: s[:i], Method: s[i+1:]}
	if spec.Type == "" || spec.Method == "" {
		return BreakpointSpec{}, fmt.Errorf("invalid breakpoint %q: expected package.Type.method", s)
	}
	return spec, nil
}

func (spec BreakpointSpec) String() string {
	return spec.Type + "." + spec.Method
}

// Location is a resolved code location.
type Location struct {
	Function string
	File     string
	Line     int
	PC       uint64
	// PCs lists every address of the location, when the function was
	// inlined there is more than one.
	PCs []uint64
}

// Contains returns true if pc is one of the addresses of loc.
func (loc Location) Contains(pc uint64) bool {
	if pc == 0 {
		return false
	}
	if loc.PC == pc {
		return true
	}
	for _, p := range loc.PCs {
		if p == pc {
			return true
		}
	}
	return false
}

func (loc Location) String() string {
	return fmt.Sprintf("%s() %s:%d (%#x)", loc.Function, loc.File, loc.Line, loc.PC)
}

// Method is a method of a loaded type.
type Method struct {
	// Name is the bare method name.
	Name string
	// Symbol is the name of the function implementing the method,
	// for example "main.(*T).m".
	Symbol string
}

// Event is a thread stopped by the target.
type Event struct {
	// RequestID is the id of the breakpoint that stopped the thread, 0 if
	// the thread stopped for any other reason.
	RequestID   int
	ThreadID    int
	GoroutineID int64
	PC          uint64
	Function    string
}

// EventSet is a batch of events delivered together by the event queue.
// The target stays suspended until the set is resumed.
type EventSet struct {
	Events []Event
	// AutoResumed is set when the protocol client already resumed the
	// target on its own, resuming such a set does nothing.
	AutoResumed bool
}

// Variable is a variable visible in a stack frame.
type Variable struct {
	Name  string
	Type  string
	Kind  reflect.Kind
	Value string
	// Unreadable is the reason the variable could not be read, if any.
	Unreadable string
}

// TypeTable gives access to the types loaded by the target.
type TypeTable interface {
	// Types returns the names of the loaded types matching filter, a
	// regular expression. An empty filter returns every type.
	Types(filter string) ([]string, error)
	// Methods returns the methods of typeName, including the ones
	// promoted from embedded fields.
	Methods(typeName string) ([]Method, error)
	// Locate returns the location of a function symbol.
	Locate(symbol string) (Location, error)
}

// Process is a live target process.
type Process interface {
	TypeTable

	// CreateBreakpoint sets a breakpoint suspending the whole target at
	// loc and returns its request id.
	CreateBreakpoint(loc Location) (int, error)
	// ClearBreakpoint removes a breakpoint created by CreateBreakpoint.
	ClearBreakpoint(id int) error
	// NextEventSet blocks until the target stops.
	NextEventSet(ctx context.Context) (*EventSet, error)
	// Resume resumes the target after es was handled.
	Resume(es *EventSet) error
	// Variables returns the arguments and local variables visible in the
	// topmost frame of the thread that generated ev.
	Variables(ev Event) ([]Variable, error)
	// Detach disconnects from the target, leaving it running.
	Detach() error
}
