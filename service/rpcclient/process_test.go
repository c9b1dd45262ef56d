package rpcclient

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/onbreak/pkg/target"
	"github.com/go-delve/onbreak/service/rpcclient/rpctest"
)

const methodPC = 0x4a1000

func newServer() *rpctest.Server {
	return &rpctest.Server{
		Types: []string{"main.T", "*main.T", "main.TT", "other.T"},
		Funcs: []string{
			"main.(*T).run",
			"main.T.String",
			"main.T.run",
			"main.(*T).run.func1",
			"main.TT.run",
			"other.T.run",
		},
		Locations: map[string][]api.Location{
			"main.T.run": {{
				PC:       methodPC,
				File:     "/src/main.go",
				Line:     12,
				Function: &api.Function{Name_: "main.T.run"},
			}},
		},
	}
}

func attachTo(t *testing.T, srv *rpctest.Server, cfg Config) *Process {
	t.Helper()
	addr := srv.Start(t)
	ref, err := target.ParseRef(addr)
	require.NoError(t, err)
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = time.Second
	}
	p, err := NewConnector(cfg).Attach(context.Background(), ref)
	require.NoError(t, err)
	return p.(*Process)
}

func TestAttachRefused(t *testing.T) {
	c := NewConnector(Config{DialTimeout: time.Second})
	_, err := c.Attach(context.Background(), target.Ref{Host: "127.0.0.1", Port: "1"})
	require.Error(t, err)
}

func TestAttachHaltsRunningTarget(t *testing.T) {
	srv := newServer()
	srv.Multiclient = true
	srv.Running = true
	attachTo(t, srv, Config{})
	require.Equal(t, 1, srv.Halts())
}

func TestTypeTable(t *testing.T) {
	p := attachTo(t, newServer(), Config{})

	types, err := p.Types("^main\\.T$")
	require.NoError(t, err)
	require.Equal(t, []string{"main.T"}, types)

	methods, err := p.Methods("main.T")
	require.NoError(t, err)
	require.Equal(t, []target.Method{
		{Name: "String", Symbol: "main.T.String"},
		{Name: "run", Symbol: "main.T.run"},
		{Name: "run", Symbol: "main.(*T).run"},
	}, methods)

	loc, err := p.Locate("main.T.run")
	require.NoError(t, err)
	require.Equal(t, target.Location{Function: "main.T.run", File: "/src/main.go", Line: 12, PC: methodPC}, loc)

	_, err = p.Locate("main.T.missing")
	require.Error(t, err)
}

func TestEventSets(t *testing.T) {
	srv := newServer()
	bpThread := func(id int, goid int64, bpid int) *api.Thread {
		return &api.Thread{
			ID:          id,
			GoroutineID: goid,
			PC:          methodPC,
			Function:    &api.Function{Name_: "main.T.run"},
			Breakpoint:  &api.Breakpoint{ID: bpid},
		}
	}
	srv.Stops = []api.DebuggerState{
		{Threads: []*api.Thread{bpThread(1, 10, 1), {ID: 2, PC: 0x10}, bpThread(3, 11, 1)}},
		{CurrentThread: &api.Thread{ID: 4, PC: 0x20}},
	}
	p := attachTo(t, srv, Config{})

	id, err := p.CreateBreakpoint(target.Location{PC: methodPC})
	require.NoError(t, err)
	require.Equal(t, 1, id)

	ctx := context.Background()
	es, err := p.NextEventSet(ctx)
	require.NoError(t, err)
	require.False(t, es.AutoResumed)
	require.Equal(t, []target.Event{
		{RequestID: 1, ThreadID: 1, GoroutineID: 10, PC: methodPC, Function: "main.T.run"},
		{RequestID: 1, ThreadID: 3, GoroutineID: 11, PC: methodPC, Function: "main.T.run"},
	}, es.Events)
	require.NoError(t, p.Resume(es))
	require.Error(t, p.Resume(es), "resuming a running target")

	es, err = p.NextEventSet(ctx)
	require.NoError(t, err)
	require.Equal(t, []target.Event{{ThreadID: 4, PC: 0x20}}, es.Events)
	require.NoError(t, p.Resume(es))

	_, err = p.NextEventSet(ctx)
	require.True(t, errors.Is(err, target.ErrTargetExited), "got %v", err)
	require.Equal(t, 3, srv.Continues())
}

func TestNextEventSetCancel(t *testing.T) {
	srv := newServer()
	p := attachTo(t, srv, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// the continue may or may not have returned already, both are valid
	_, err := p.NextEventSet(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, target.ErrTargetExited) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestVariables(t *testing.T) {
	srv := newServer()
	srv.Args = map[int64][]api.Variable{
		7: {{Name: "name", Kind: reflect.String, Value: "hello", Type: "string"}},
	}
	srv.Locals = map[int64][]api.Variable{
		7: {
			{Name: "n", Kind: reflect.Int, Value: "5", Type: "int"},
			{Name: "s", Kind: reflect.String, Value: "world", Type: "string", Flags: api.VariableShadowed},
		},
	}
	p := attachTo(t, srv, Config{})

	vars, err := p.Variables(target.Event{GoroutineID: 7, Function: "main.T.run", PC: methodPC})
	require.NoError(t, err)
	require.Equal(t, []target.Variable{
		{Name: "name", Type: "string", Kind: reflect.String, Value: "hello"},
		{Name: "n", Type: "int", Kind: reflect.Int, Value: "5"},
		{Name: "(s)", Type: "string", Kind: reflect.String, Value: "world"},
	}, vars)

	_, err = p.Variables(target.Event{GoroutineID: 7, PC: methodPC})
	require.True(t, errors.Is(err, target.ErrAbsentInformation), "got %v", err)

}

func TestVariablesNoDebugInfo(t *testing.T) {
	srv := newServer()
	srv.LocalsErr = "could not find function main.T.run: no debug info"
	p := attachTo(t, srv, Config{})
	_, err := p.Variables(target.Event{GoroutineID: 7, Function: "main.T.run", PC: methodPC})
	require.True(t, errors.Is(err, target.ErrAbsentInformation), "got %v", err)
}

func TestDetachClearsBreakpoints(t *testing.T) {
	srv := newServer()
	p := attachTo(t, srv, Config{})
	id, err := p.CreateBreakpoint(target.Location{PC: methodPC})
	require.NoError(t, err)
	require.NoError(t, p.Detach())
	require.Equal(t, []int{id}, srv.Cleared())
	require.Empty(t, srv.Breakpoints())
}

func TestCreateBreakpointInlined(t *testing.T) {
	srv := newServer()
	p := attachTo(t, srv, Config{})
	_, err := p.CreateBreakpoint(target.Location{PC: methodPC, PCs: []uint64{methodPC, methodPC + 0x100}})
	require.NoError(t, err)
	bps := srv.Breakpoints()
	require.Len(t, bps, 1)
	require.Equal(t, []uint64{methodPC, methodPC + 0x100}, bps[0].Addrs)
}

func TestCreateBreakpointExisting(t *testing.T) {
	srv := newServer()
	srv.Existing = []api.Breakpoint{
		{ID: -1, Name: "unrecovered-panic", Addr: 0x10},
		{ID: 5, Addr: 0x900, Addrs: []uint64{0x900, methodPC + 0x100}},
	}
	p := attachTo(t, srv, Config{})

	id, err := p.CreateBreakpoint(target.Location{PC: methodPC, PCs: []uint64{methodPC, methodPC + 0x100}})
	require.NoError(t, err)
	require.Equal(t, 5, id)
	require.Len(t, srv.Breakpoints(), 2)

	// Breakpoints set by others survive Detach.
	require.NoError(t, p.Detach())
	require.Empty(t, srv.Cleared())
	require.Len(t, srv.Breakpoints(), 2)
}

func TestVariablesSkipsReturnValues(t *testing.T) {
	srv := newServer()
	srv.Args = map[int64][]api.Variable{
		7: {
			{Name: "name", Kind: reflect.String, Value: "hello", Type: "string", Flags: api.VariableArgument},
			{Name: "~r0", Kind: reflect.String, Value: "\x00", Type: "string", Flags: api.VariableReturnArgument},
		},
	}
	p := attachTo(t, srv, Config{})
	vars, err := p.Variables(target.Event{GoroutineID: 7, Function: "main.T.run", PC: methodPC})
	require.NoError(t, err)
	require.Equal(t, []target.Variable{
		{Name: "name", Type: "string", Kind: reflect.String, Value: "hello"},
	}, vars)
}

func TestWrapVariablesError(t *testing.T) {
	for _, msg := range []string{
		"could not find function main.T.run",
		"no debug info found for function main.T.run",
		"could not find debug_info section",
		"no source for PC 0x4a1000",
	} {
		err := wrapVariablesError(errors.New(msg))
		require.True(t, errors.Is(err, target.ErrAbsentInformation), "%q", msg)
		require.Contains(t, err.Error(), msg)
	}
	err := wrapVariablesError(errors.New("connection reset by peer"))
	require.False(t, errors.Is(err, target.ErrAbsentInformation))
}
