// Package attach selects a connector able to reach the debug server of
// a running target and attaches to it.
package attach

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-delve/onbreak/pkg/logflags"
	"github.com/go-delve/onbreak/pkg/target"
)

// SocketTransport is the name of the transport used to attach to a
// debug server listening on a TCP socket.
const SocketTransport = "socket"

// Connector attaches to a target through a specific transport.
type Connector interface {
	Name() string
	Transport() string
	Attach(ctx context.Context, ref target.Ref) (target.Process, error)
}

// FindConnector returns the connector using transport. When more than
// one connector matches the last one wins.
func FindConnector(connectors []Connector, transport string) (Connector, error) {
	var found Connector
	for _, c := range connectors {
		if strings.EqualFold(c.Transport(), transport) {
			found = c
		}
	}
	if found == nil {
		return nil, target.ErrNoTransport
	}
	return found, nil
}

// Attach attaches to the target at ref using a socket connector.
func Attach(ctx context.Context, connectors []Connector, ref target.Ref) (target.Process, error) {
	log := logflags.AttachLogger()
	c, err := FindConnector(connectors, SocketTransport)
	if err != nil {
		return nil, err
	}
	log.Infof("Attaching to %s", ref)
	log.Debugf("using connector %s", c.Name())
	p, err := c.Attach(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("could not attach to %s: %w", ref, err)
	}
	return p, nil
}
