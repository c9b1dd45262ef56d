// Package rpctest provides an in-process stand-in for a headless Delve
// server speaking JSON-RPC API v2, for testing clients.
package rpctest

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"regexp"
	"sync"
	"testing"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
)

// Server serves a scripted debugging session. Fields must be set before
// the first client connects.
type Server struct {
	// Types and Funcs are returned, filtered, by ListTypes and
	// ListFunctions.
	Types []string
	Funcs []string
	// Locations maps location expressions to the result of FindLocation.
	Locations map[string][]api.Location
	// Stops are returned by successive continue commands. Once they are
	// exhausted the target exits.
	Stops []api.DebuggerState
	// Args and Locals are returned for frame 0 of a goroutine.
	Args   map[int64][]api.Variable
	Locals map[int64][]api.Variable
	// Multiclient and Running describe the server state on connection.
	Multiclient bool
	Running     bool
	// LocalsErr, if set, is returned by ListLocalVars.
	LocalsErr string
	// Existing are breakpoints set before the first client connects, by
	// another client for example.
	Existing []api.Breakpoint

	mu          sync.Mutex
	listener    net.Listener
	nextID      int
	breakpoints map[int]*api.Breakpoint
	cleared     []int
	halts       int
	continues   int
}

// Start starts the server on a local port and returns its address. The
// server is stopped when the test ends.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	srv := rpc.NewServer()
	if err := srv.RegisterName("RPCServer", &service{s}); err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s.listener = ln
	s.breakpoints = make(map[int]*api.Breakpoint)
	for i := range s.Existing {
		bp := s.Existing[i]
		if bp.ID > s.nextID {
			s.nextID = bp.ID
		}
		s.breakpoints[bp.ID] = &bp
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// Breakpoints returns the breakpoints currently set.
func (s *Server) Breakpoints() []api.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]api.Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		r = append(r, *bp)
	}
	return r
}

// Cleared returns the ids of the breakpoints cleared by clients.
func (s *Server) Cleared() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.cleared...)
}

// Halts returns the number of halt commands received.
func (s *Server) Halts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halts
}

// Continues returns the number of continue commands received.
func (s *Server) Continues() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continues
}

// service holds the methods exported over net/rpc, Server itself would
// expose its accessors as malformed RPC methods.
type service struct {
	s *Server
}

func (r *service) SetApiVersion(arg api.SetAPIVersionIn, out *api.SetAPIVersionOut) error {
	if arg.APIVersion != 2 {
		return errors.New("unsupported API version")
	}
	return nil
}

func (r *service) IsMulticlient(arg rpc2.IsMulticlientIn, out *rpc2.IsMulticlientOut) error {
	out.IsMulticlient = r.s.Multiclient
	return nil
}

func (r *service) ProcessPid(arg rpc2.ProcessPidIn, out *rpc2.ProcessPidOut) error {
	out.Pid = 4242
	return nil
}

func (r *service) State(arg rpc2.StateIn, out *rpc2.StateOut) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out.State = &api.DebuggerState{Running: r.s.Running}
	return nil
}

func (r *service) ListTypes(arg rpc2.ListTypesIn, out *rpc2.ListTypesOut) error {
	types, err := filter(r.s.Types, arg.Filter)
	out.Types = types
	return err
}

func (r *service) ListFunctions(arg rpc2.ListFunctionsIn, out *rpc2.ListFunctionsOut) error {
	funcs, err := filter(r.s.Funcs, arg.Filter)
	out.Funcs = funcs
	return err
}

func filter(names []string, expr string) ([]string, error) {
	rx, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	r := []string{}
	for _, name := range names {
		if rx.MatchString(name) {
			r = append(r, name)
		}
	}
	return r, nil
}

func (r *service) FindLocation(arg rpc2.FindLocationIn, out *rpc2.FindLocationOut) error {
	locs, ok := r.s.Locations[arg.Loc]
	if !ok {
		return errors.New("location \"" + arg.Loc + "\" not found")
	}
	out.Locations = locs
	return nil
}

func (r *service) CreateBreakpoint(arg rpc2.CreateBreakpointIn, out *rpc2.CreateBreakpointOut) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Running {
		return errors.New("target is running")
	}
	for _, old := range r.s.breakpoints {
		if old.Addr == arg.Breakpoint.Addr {
			return fmt.Errorf("Breakpoint exists at %s:%d at %#x", old.File, old.Line, old.Addr)
		}
	}
	r.s.nextID++
	bp := arg.Breakpoint
	bp.ID = r.s.nextID
	r.s.breakpoints[bp.ID] = &bp
	out.Breakpoint = bp
	return nil
}

func (r *service) ListBreakpoints(arg rpc2.ListBreakpointsIn, out *rpc2.ListBreakpointsOut) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out.Breakpoints = []*api.Breakpoint{}
	for _, bp := range r.s.breakpoints {
		bp := *bp
		out.Breakpoints = append(out.Breakpoints, &bp)
	}
	return nil
}

func (r *service) ClearBreakpoint(arg rpc2.ClearBreakpointIn, out *rpc2.ClearBreakpointOut) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.breakpoints[arg.Id]; !ok {
		return errors.New("no such breakpoint")
	}
	delete(r.s.breakpoints, arg.Id)
	r.s.cleared = append(r.s.cleared, arg.Id)
	return nil
}

func (r *service) Command(cmd api.DebuggerCommand, out *rpc2.CommandOut) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	switch cmd.Name {
	case api.Halt:
		r.s.halts++
		r.s.Running = false
		out.State = api.DebuggerState{}
	case api.Continue:
		r.s.continues++
		if len(r.s.Stops) == 0 {
			out.State = api.DebuggerState{Exited: true, ExitStatus: 0}
			return nil
		}
		out.State = r.s.Stops[0]
		r.s.Stops = r.s.Stops[1:]
	default:
		return errors.New("unsupported command " + cmd.Name)
	}
	return nil
}

func (r *service) ListLocalVars(arg rpc2.ListLocalVarsIn, out *rpc2.ListLocalVarsOut) error {
	if r.s.LocalsErr != "" {
		return errors.New(r.s.LocalsErr)
	}
	out.Variables = r.s.Locals[arg.Scope.GoroutineID]
	return nil
}

func (r *service) ListFunctionArgs(arg rpc2.ListFunctionArgsIn, out *rpc2.ListFunctionArgsOut) error {
	out.Args = r.s.Args[arg.Scope.GoroutineID]
	return nil
}
