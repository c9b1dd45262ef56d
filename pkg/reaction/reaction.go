// Package reaction launches the external command run on every
// breakpoint hit.
package reaction

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/cosiner/argv"

	"github.com/go-delve/onbreak/pkg/logflags"
)

// ErrTooManyReactions is returned by Launch when the maximum number of
// outstanding reactions is reached.
var ErrTooManyReactions = errors.New("too many reactions running")

// Launcher starts a command without waiting for it. Commands are reaped
// in the background so that finished ones do not accumulate.
type Launcher struct {
	argv []string
	max  int
	log  logflags.Logger

	mu          sync.Mutex
	outstanding int
	wg          sync.WaitGroup
}

// New returns a Launcher for command. The command is split into
// arguments honoring quotes and backslash escapes, but it is not run
// through a shell: '|' is an ordinary character, variables are not
// expanded and backticks are rejected. If maxOutstanding is greater than
// zero at most that many commands run at the same time.
func New(command string, maxOutstanding int) (*Launcher, error) {
	v, err := splitCommand(command)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errors.New("empty command")
	}
	return &Launcher{
		argv: v,
		max:  maxOutstanding,
		log:  logflags.ReactionLogger(),
	}, nil
}

// splitCommand splits command into words. Unlike argv.Argv it gives no
// meaning to pipes and does not expand variables.
func splitCommand(command string) ([]string, error) {
	tokens, err := argv.Scan(command)
	if err != nil {
		return nil, fmt.Errorf("illegal command line '%s': %v", command, err)
	}
	var (
		words  []string
		word   strings.Builder
		inWord bool
	)
	for _, tok := range tokens {
		switch tok.Type {
		case argv.TokSpace, argv.TokEOF:
			if inWord {
				words = append(words, word.String())
				word.Reset()
				inWord = false
			}
		case argv.TokPipe:
			word.WriteByte('|')
			inWord = true
		case argv.TokBackQuote:
			return nil, fmt.Errorf("backtick not supported in '%s'", command)
		default:
			word.WriteString(string(tok.Value))
			inWord = true
		}
	}
	return words, nil
}

// Argv returns the argument vector of the command.
func (l *Launcher) Argv() []string {
	return l.argv
}

// Launch starts the command and returns as soon as it is running.
func (l *Launcher) Launch() error {
	l.mu.Lock()
	if l.max > 0 && l.outstanding >= l.max {
		l.mu.Unlock()
		return ErrTooManyReactions
	}
	l.outstanding++
	l.mu.Unlock()

	cmd := exec.Command(l.argv[0], l.argv[1:]...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		l.done()
		return fmt.Errorf("could not launch %s: %w", l.argv[0], err)
	}
	pid := cmd.Process.Pid
	l.log.Debugf("launched %s (pid %d)", l.argv[0], pid)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := cmd.Wait()
		l.done()
		if err != nil {
			l.log.Debugf("reaction %d: %v", pid, err)
			return
		}
		l.log.Debugf("reaction %d exited", pid)
	}()
	return nil
}

func (l *Launcher) done() {
	l.mu.Lock()
	l.outstanding--
	l.mu.Unlock()
}

// Outstanding returns the number of commands still running.
func (l *Launcher) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding
}

// Wait waits for all launched commands to exit.
func (l *Launcher) Wait() {
	l.wg.Wait()
}
