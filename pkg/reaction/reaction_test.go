package reaction

import (
	"errors"
	"os/exec"
	"reflect"
	"runtime"
	"testing"
)

func TestNewArgv(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{"/bin/true", []string{"/bin/true"}},
		{`notify-send "breakpoint hit" now`, []string{"notify-send", "breakpoint hit", "now"}},
		{`logger -t onbreak 'hit at $PC'`, []string{"logger", "-t", "onbreak", "hit at $PC"}},
		{`echo "$HOME" $HOME`, []string{"echo", "$HOME", "$HOME"}},
		{`echo a|b`, []string{"echo", "a|b"}},
		{`echo a | b`, []string{"echo", "a", "|", "b"}},
		{`echo "" x\ y`, []string{"echo", "", "x y"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
	} {
		l, err := New(tc.in, 0)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if !reflect.DeepEqual(l.Argv(), tc.want) {
			t.Errorf("%q: got %q, want %q", tc.in, l.Argv(), tc.want)
		}
	}
}

func TestNewErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "echo `id`", `echo "unterminated`} {
		if _, err := New(in, 0); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func lookPath(t *testing.T, name string) string {
	if runtime.GOOS == "windows" {
		t.Skip("test requires a unix userland")
	}
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found", name)
	}
	return path
}

func TestLaunch(t *testing.T) {
	l, err := New(lookPath(t, "true"), 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := l.Launch(); err != nil {
			t.Fatal(err)
		}
	}
	l.Wait()
	if n := l.Outstanding(); n != 0 {
		t.Fatalf("expected no outstanding reactions, got %d", n)
	}
}

func TestLaunchFailure(t *testing.T) {
	lookPath(t, "true")
	l, err := New("/nonexistent/onbreak-reaction", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Launch(); err == nil {
		t.Fatal("expected launch error")
	}
	if n := l.Outstanding(); n != 0 {
		t.Fatalf("failed launch still counted: %d", n)
	}
}

func TestLaunchLimit(t *testing.T) {
	l, err := New(lookPath(t, "sleep")+" 1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Launch(); err != nil {
		t.Fatal(err)
	}
	if err := l.Launch(); !errors.Is(err, ErrTooManyReactions) {
		t.Fatalf("expected ErrTooManyReactions, got %v", err)
	}
	l.Wait()
	if err := l.Launch(); err != nil {
		t.Fatalf("launch after the first reaction exited: %v", err)
	}
	l.Wait()
}
