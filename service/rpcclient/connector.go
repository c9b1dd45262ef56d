// Package rpcclient implements target.Process on top of the JSON-RPC API
// (version 2) of a headless Delve server, started for example with:
//
//	dlv attach <pid> --headless --accept-multiclient --listen=:5005
package rpcclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"

	"github.com/go-delve/onbreak/pkg/attach"
	"github.com/go-delve/onbreak/pkg/logflags"
	"github.com/go-delve/onbreak/pkg/target"
)

// Config configures the connector and the processes it returns.
type Config struct {
	// DialTimeout bounds the time spent connecting to the server.
	DialTimeout time.Duration
	// LoadConfig is used to read variables on breakpoint hits.
	LoadConfig api.LoadConfig
}

// Connector attaches to headless Delve servers over TCP.
type Connector struct {
	cfg Config
}

var _ attach.Connector = &Connector{}

// NewConnector returns a new Connector.
func NewConnector(cfg Config) *Connector {
	return &Connector{cfg: cfg}
}

func (c *Connector) Name() string {
	return "delve-jsonrpc"
}

func (c *Connector) Transport() string {
	return attach.SocketTransport
}

// Attach connects to the server at ref. If the target is running it is
// halted so that breakpoints can be set.
func (c *Connector) Attach(ctx context.Context, ref target.Ref) (target.Process, error) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", ref.Addr())
	if err != nil {
		return nil, err
	}
	return newProcess(rpc2.NewClientFromConn(conn), c.cfg)
}

func newProcess(client *rpc2.RPCClient, cfg Config) (*Process, error) {
	p := &Process{
		client: client,
		cfg:    cfg,
		log:    logflags.AttachLogger(),
		rpcLog: logflags.RPCLogger(),
	}
	if client.IsMulticlient() {
		state, _ := client.GetStateNonBlocking()
		// Errors are ignored here, we only need to know whether the target
		// must be stopped before it can be configured.
		if state != nil && state.Running {
			p.log.Debug("halting running target")
			if _, err := client.Halt(); err != nil {
				client.Disconnect(true)
				return nil, fmt.Errorf("could not halt: %v", err)
			}
		}
	}
	return p, nil
}
