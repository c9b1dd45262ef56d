package cmds

import "os"

var shutdownSignals = []os.Signal{os.Interrupt}
