package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"

	"github.com/go-delve/onbreak/pkg/locspec"
	"github.com/go-delve/onbreak/pkg/logflags"
	"github.com/go-delve/onbreak/pkg/target"
)

// haltTimeout bounds the time Detach waits for a running continue to
// return after halting the target.
const haltTimeout = 5 * time.Second

// Process is a target process controlled through a headless Delve
// server. It is not safe for concurrent use.
type Process struct {
	client *rpc2.RPCClient
	cfg    Config
	log    logflags.Logger
	rpcLog logflags.Logger

	// pending is the state channel of the continue command in progress,
	// nil while the target is stopped.
	pending     <-chan *api.DebuggerState
	breakpoints []int
}

var _ target.Process = &Process{}

func (p *Process) Types(filter string) ([]string, error) {
	p.rpcLog.Debugf("-> ListTypes %q", filter)
	return p.client.ListTypes(filter)
}

// Methods lists the functions implementing methods of typeName, value
// receivers first.
func (p *Process) Methods(typeName string) ([]target.Method, error) {
	filter, err := locspec.MethodFilter(typeName)
	if err != nil {
		return nil, err
	}
	p.rpcLog.Debugf("-> ListFunctions %q", filter)
	var out rpc2.ListFunctionsOut
	if err := p.client.CallAPI("ListFunctions", rpc2.ListFunctionsIn{Filter: filter}, &out); err != nil {
		return nil, err
	}
	type method struct {
		target.Method
		ptr bool
	}
	methods := make([]method, 0, len(out.Funcs))
	for _, fn := range out.Funcs {
		sym, ok := locspec.ParseFuncSymbol(fn)
		if !ok || sym.TypeName() != typeName {
			continue
		}
		methods = append(methods, method{target.Method{Name: sym.BaseName, Symbol: fn}, sym.PointerReceiver})
	}
	sort.SliceStable(methods, func(i, j int) bool {
		return !methods[i].ptr && methods[j].ptr
	})
	r := make([]target.Method, len(methods))
	for i := range methods {
		r[i] = methods[i].Method
	}
	return r, nil
}

func (p *Process) Locate(symbol string) (target.Location, error) {
	p.rpcLog.Debugf("-> FindLocation %q", symbol)
	var out rpc2.FindLocationOut
	in := rpc2.FindLocationIn{Scope: api.EvalScope{GoroutineID: -1}, Loc: symbol}
	if err := p.client.CallAPI("FindLocation", in, &out); err != nil {
		return target.Location{}, err
	}
	if len(out.Locations) == 0 {
		return target.Location{}, fmt.Errorf("%w: %s", target.ErrNotFound, symbol)
	}
	loc := out.Locations[0]
	r := target.Location{
		Function: symbol,
		File:     loc.File,
		Line:     loc.Line,
		PC:       loc.PC,
		PCs:      loc.PCs,
	}
	if loc.Function != nil {
		r.Function = loc.Function.Name()
	}
	return r, nil
}

// CreateBreakpoint sets a breakpoint at loc. A breakpoint already set at
// loc, by another client for example, is reused and left in place on
// Detach.
func (p *Process) CreateBreakpoint(loc target.Location) (int, error) {
	if bp, err := p.findBreakpoint(loc); err != nil {
		return 0, err
	} else if bp != nil {
		p.log.Infof("Using existing breakpoint %d at %s", bp.ID, loc)
		return bp.ID, nil
	}
	bp := &api.Breakpoint{Addr: loc.PC}
	if len(loc.PCs) > 1 {
		bp.Addrs = loc.PCs
	}
	p.rpcLog.Debugf("-> CreateBreakpoint %#x", loc.PC)
	created, err := p.client.CreateBreakpoint(bp)
	if err != nil {
		return 0, err
	}
	p.breakpoints = append(p.breakpoints, created.ID)
	return created.ID, nil
}

func (p *Process) findBreakpoint(loc target.Location) (*api.Breakpoint, error) {
	p.rpcLog.Debug("-> ListBreakpoints")
	var out rpc2.ListBreakpointsOut
	if err := p.client.CallAPI("ListBreakpoints", rpc2.ListBreakpointsIn{All: false}, &out); err != nil {
		return nil, err
	}
	for _, bp := range out.Breakpoints {
		if bp.ID <= 0 {
			// internal breakpoints such as the unrecovered panic one
			continue
		}
		if loc.Contains(bp.Addr) {
			return bp, nil
		}
		for _, addr := range bp.Addrs {
			if loc.Contains(addr) {
				return bp, nil
			}
		}
	}
	return nil, nil
}

func (p *Process) ClearBreakpoint(id int) error {
	p.rpcLog.Debugf("-> ClearBreakpoint %d", id)
	if _, err := p.client.ClearBreakpoint(id); err != nil {
		return err
	}
	for i := range p.breakpoints {
		if p.breakpoints[i] == id {
			p.breakpoints = append(p.breakpoints[:i], p.breakpoints[i+1:]...)
			break
		}
	}
	return nil
}

// NextEventSet continues the target, if it is stopped, and waits for it
// to stop again.
func (p *Process) NextEventSet(ctx context.Context) (*target.EventSet, error) {
	if p.pending == nil {
		p.rpcLog.Debug("-> Command continue")
		p.pending = p.client.Continue()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case state, ok := <-p.pending:
		if !ok {
			p.pending = nil
			return nil, errors.New("continue returned no state")
		}
		return p.eventSet(state)
	}
}

func (p *Process) eventSet(state *api.DebuggerState) (*target.EventSet, error) {
	if state.Exited {
		p.pending = nil
		return nil, fmt.Errorf("%w with status %d", target.ErrTargetExited, state.ExitStatus)
	}
	if state.Err != nil {
		p.pending = nil
		return nil, fmt.Errorf("continue failed: %w", state.Err)
	}

	es := &target.EventSet{}
	threads := state.Threads
	if len(threads) == 0 && state.CurrentThread != nil {
		threads = []*api.Thread{state.CurrentThread}
	}
	tracepointsOnly := true
	for _, th := range threads {
		if th.Breakpoint == nil {
			continue
		}
		tracepointsOnly = tracepointsOnly && (th.Breakpoint.Tracepoint || th.Breakpoint.TraceReturn)
		es.Events = append(es.Events, threadEvent(th))
	}
	if len(es.Events) == 0 {
		// Stopped without hitting a breakpoint, a manual halt for example.
		if th := state.CurrentThread; th != nil {
			es.Events = append(es.Events, threadEvent(th))
		}
		tracepointsOnly = false
	}
	// The client keeps continuing on its own when every stopped thread
	// is on a tracepoint, the channel stays open in that case.
	es.AutoResumed = tracepointsOnly
	if !es.AutoResumed {
		p.pending = nil
	}
	p.rpcLog.Debugf("<- stop: %d events, auto resumed %v", len(es.Events), es.AutoResumed)
	return es, nil
}

func threadEvent(th *api.Thread) target.Event {
	ev := target.Event{
		ThreadID:    th.ID,
		GoroutineID: th.GoroutineID,
		PC:          th.PC,
	}
	if th.Breakpoint != nil {
		ev.RequestID = th.Breakpoint.ID
	}
	if th.Function != nil {
		ev.Function = th.Function.Name()
	}
	return ev
}

func (p *Process) Resume(es *target.EventSet) error {
	if es.AutoResumed {
		return nil
	}
	if p.pending != nil {
		return errors.New("target is already running")
	}
	p.rpcLog.Debug("-> Command continue")
	p.pending = p.client.Continue()
	return nil
}

// Variables returns the arguments and the local variables of the
// topmost frame of the goroutine that generated ev.
func (p *Process) Variables(ev target.Event) ([]target.Variable, error) {
	if ev.Function == "" {
		return nil, fmt.Errorf("%w: no function at %#x", target.ErrAbsentInformation, ev.PC)
	}
	scope := api.EvalScope{GoroutineID: ev.GoroutineID, Frame: 0}
	if ev.GoroutineID == 0 {
		scope.GoroutineID = -1
	}
	p.rpcLog.Debugf("-> ListFunctionArgs goroutine %d", ev.GoroutineID)
	args, err := p.client.ListFunctionArgs(scope, p.cfg.LoadConfig)
	if err != nil {
		return nil, wrapVariablesError(err)
	}
	p.rpcLog.Debugf("-> ListLocalVars goroutine %d", ev.GoroutineID)
	locals, err := p.client.ListLocalVariables(scope, p.cfg.LoadConfig)
	if err != nil {
		return nil, wrapVariablesError(err)
	}
	r := make([]target.Variable, 0, len(args)+len(locals))
	for _, vars := range [][]api.Variable{args, locals} {
		for _, v := range vars {
			// Return values are not initialized yet at function entry.
			if v.Flags&api.VariableReturnArgument != 0 {
				continue
			}
			r = append(r, convertVariable(v))
		}
	}
	return r, nil
}

// absentInformationErrors are fragments of the errors returned by the
// server when the function or the frame has no debug information.
var absentInformationErrors = []string{
	"debug info",
	"debug_info",
	"could not find function",
	"no source for PC",
}

func wrapVariablesError(err error) error {
	msg := err.Error()
	for _, s := range absentInformationErrors {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", target.ErrAbsentInformation, err)
		}
	}
	return err
}

func convertVariable(v api.Variable) target.Variable {
	name := v.Name
	if v.Flags&api.VariableShadowed != 0 {
		name = "(" + name + ")"
	}
	return target.Variable{
		Name:       name,
		Type:       v.Type,
		Kind:       v.Kind,
		Value:      v.Value,
		Unreadable: v.Unreadable,
	}
}

// Detach stops the target if it is running, removes the breakpoints
// created through p and disconnects, letting the target continue.
func (p *Process) Detach() error {
	if p.pending != nil {
		p.rpcLog.Debug("-> Command halt")
		if _, err := p.client.Halt(); err != nil {
			p.log.Warnf("could not halt target: %v", err)
		}
		select {
		case <-p.pending:
		case <-time.After(haltTimeout):
			p.log.Warn("timed out waiting for the target to stop")
		}
		p.pending = nil
	}
	for _, id := range append([]int(nil), p.breakpoints...) {
		if err := p.ClearBreakpoint(id); err != nil {
			p.log.Warnf("could not clear breakpoint %d: %v", id, err)
		}
	}
	return p.client.Disconnect(true)
}
