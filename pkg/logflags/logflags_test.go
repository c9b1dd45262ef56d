package logflags

import (
	"bytes"
	"io"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
)

func reset() {
	attach, resolver, eventLoop, reaction, rpc = false, false, false, false, false
	Close()
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	if loggerFactory != nil {
		t.Fatalf("expected loggerFactory to be nil; but was <%v>", loggerFactory)
	}
	defer func() {
		loggerFactory = nil
	}()
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		if level != logrus.TraceLevel {
			t.Fatalf("expected level to be <%v>; but was <%v>", logrus.TraceLevel, level)
		}
		if len(fields) != 1 || fields["foo"] != "bar" {
			t.Fatalf("expected fields to be {'foo':'bar'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeLogger(logrus.TraceLevel, Fields{"foo": "bar"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeFlaggableLogger(t *testing.T) {
	for _, tc := range []struct {
		flag bool
		want logrus.Level
	}{
		{false, logrus.ErrorLevel},
		{true, logrus.DebugLevel},
	} {
		actual := makeFlaggableLogger(tc.flag, Fields{"foo": "bar"})
		actualEntry, ok := actual.(*logrusLogger)
		if !ok {
			t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrusLogger)(nil)), reflect.TypeOf(actual))
		}
		if actualEntry.Entry.Logger.Level != tc.want {
			t.Fatalf("flag=%v: expected level <%v>; but was <%v>", tc.flag, tc.want, actualEntry.Logger.Level)
		}
		if len(actualEntry.Entry.Data) != 1 || actualEntry.Data["foo"] != "bar" {
			t.Fatalf("expected actualEntry.Entry.Data to be {'foo':'bar'}; but was <%v>", actualEntry.Data)
		}
	}
}

func TestMakeVerboseLogger(t *testing.T) {
	for _, tc := range []struct {
		flag bool
		want logrus.Level
	}{
		{false, logrus.InfoLevel},
		{true, logrus.DebugLevel},
	} {
		actualEntry := makeVerboseLogger(tc.flag, Fields{"layer": "x"}).(*logrusLogger)
		if actualEntry.Entry.Logger.Level != tc.want {
			t.Fatalf("flag=%v: expected level <%v>; but was <%v>", tc.flag, tc.want, actualEntry.Logger.Level)
		}
	}
}

func TestMakeLogger_withLogOut(t *testing.T) {
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	actualEntry := makeLogger(logrus.InfoLevel, Fields{"layer": "eventloop"}).(*logrusLogger)
	if actualEntry.Entry.Logger.Out != logOut {
		t.Fatalf("expected actualEntry.Entry.Logger.Out to be <%v>; but was <%v>", logOut, actualEntry.Logger.Out)
	}
	if actualEntry.Entry.Logger.Formatter != textFormatterInstance {
		t.Fatalf("expected actualEntry.Entry.Logger.Formatter to be <%v>; but was <%v>", textFormatterInstance, actualEntry.Logger.Formatter)
	}
}

func TestSetup(t *testing.T) {
	defer reset()

	if err := Setup(false, "rpc", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v; got %v", errLogstrWithoutLog, err)
	}

	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !EventLoop() || RPC() || Attach() {
		t.Fatalf("default log output should only enable eventloop")
	}
	reset()

	dest := filepath.Join(t.TempDir(), "onbreak.log")
	if err := Setup(true, "attach,resolver,reaction,rpc", dest); err != nil {
		t.Fatal(err)
	}
	if !Attach() || !Resolver() || !Reaction() || !RPC() || EventLoop() {
		t.Fatalf("unexpected flags attach=%v resolver=%v reaction=%v rpc=%v eventloop=%v", Attach(), Resolver(), Reaction(), RPC(), EventLoop())
	}
	if logOut == nil {
		t.Fatalf("expected log destination to be open")
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw bufferWriter) Close() error {
	return nil
}
