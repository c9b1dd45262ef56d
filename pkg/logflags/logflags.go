package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var attach = false
var resolver = false
var eventLoop = false
var reaction = false
var rpc = false

var logOut io.WriteCloser

var textFormatterInstance = &logrus.TextFormatter{
	FullTimestamp:   true,
	TimestampFormat: time.RFC3339,
	DisableColors:   true,
}

var colorFormatterInstance = &logrus.TextFormatter{
	FullTimestamp:   true,
	TimestampFormat: time.RFC3339,
	ForceColors:     true,
}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	if logOut != nil {
		logger.Logger.Out = logOut
		logger.Logger.Formatter = textFormatterInstance
	} else {
		logger.Logger.Out = colorable.NewColorableStderr()
		logger.Logger.Formatter = stderrFormatter()
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func stderrFormatter() logrus.Formatter {
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return colorFormatterInstance
	}
	return textFormatterInstance
}

// makeFlaggableLogger returns a logger that only reports errors unless
// flag is set.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// makeVerboseLogger returns a logger that always reports informational
// messages and also reports debug messages if flag is set.
func makeVerboseLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.InfoLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Attach returns true if the attach client should log debug messages.
func Attach() bool {
	return attach
}

// AttachLogger returns a logger for the attach client.
func AttachLogger() Logger {
	return makeVerboseLogger(attach, Fields{"layer": "attach"})
}

// Resolver returns true if the breakpoint resolver should log debug
// messages.
func Resolver() bool {
	return resolver
}

// ResolverLogger returns a logger for the breakpoint resolver.
func ResolverLogger() Logger {
	return makeVerboseLogger(resolver, Fields{"layer": "resolver"})
}

// EventLoop returns true if the event loop should log debug messages.
func EventLoop() bool {
	return eventLoop
}

// EventLoopLogger returns a logger for the event loop and the
// breakpoint hook.
func EventLoopLogger() Logger {
	return makeVerboseLogger(eventLoop, Fields{"layer": "eventloop"})
}

// Reaction returns true if the reaction launcher should log debug
// messages.
func Reaction() bool {
	return reaction
}

// ReactionLogger returns a logger for the reaction launcher.
func ReactionLogger() Logger {
	return makeVerboseLogger(reaction, Fields{"layer": "reaction"})
}

// RPC returns true if RPC messages should be logged.
func RPC() bool {
	return rpc
}

// RPCLogger returns a logger for RPC messages.
func RPCLogger() Logger {
	return makeFlaggableLogger(rpc, Fields{"layer": "rpc"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs are redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "onbreak-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "eventloop"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "attach":
			attach = true
		case "resolver":
			resolver = true
		case "eventloop":
			eventLoop = true
		case "reaction":
			reaction = true
		case "rpc":
			rpc = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output, if it is a file.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

