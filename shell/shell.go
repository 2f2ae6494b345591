// Package shell implements the kernel's command vocabulary on top of the filesystem and the
// allocator. Every command produces display text; failures become short messages and never stop
// the command loop.
package shell

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tinykern/kcore/heap"
	"github.com/tinykern/kcore/memfs"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

var errUsage = errors.New("usage")

type command struct {
	name    string
	usage   string
	summary string
	// completesEntries marks commands whose argument is a name in the current directory
	completesEntries bool
	run              func(args []string) (string, error)
}

// Options configures a Shell
type Options struct {
	// Clock supplies the time shown by the time command. Defaults to time.Now.
	Clock func() time.Time
	// TimezoneOffset is the whole-hour offset from UTC the time command reports in
	TimezoneOffset int
}

// Shell dispatches command lines. It keeps the command history and notices when exit was
// requested. A Shell is driven by a single caller at a time.
type Shell struct {
	logger    *slog.Logger
	fs        *memfs.FileSystem
	allocator *heap.Allocator
	options   Options

	commands map[string]*command
	order    []string
	history  []string
	exited   bool
}

func New(logger *slog.Logger, fs *memfs.FileSystem, allocator *heap.Allocator, options Options) *Shell {
	if options.Clock == nil {
		options.Clock = time.Now
	}

	s := &Shell{
		logger:    logger,
		fs:        fs,
		allocator: allocator,
		options:   options,
		commands:  make(map[string]*command),
	}

	s.register(&command{name: "help", usage: "help", summary: "Show this help", run: s.cmdHelp})
	s.register(&command{name: "clear", usage: "clear", summary: "Clear screen", run: s.cmdClear})
	s.register(&command{name: "history", usage: "history", summary: "Show command history", run: s.cmdHistory})
	s.register(&command{name: "exit", usage: "exit", summary: "Shutdown the system", run: s.cmdExit})
	s.register(&command{name: "ls", usage: "ls [-l] [path]", summary: "List directory contents", completesEntries: true, run: s.cmdList})
	s.register(&command{name: "echo", usage: "echo <text> [> file | >> file]", summary: "Display a line of text", run: s.cmdEcho})
	s.register(&command{name: "pwd", usage: "pwd", summary: "Print working directory", run: s.cmdPwd})
	s.register(&command{name: "mkdir", usage: "mkdir <directory>", summary: "Create a directory", completesEntries: true, run: s.cmdMkdir})
	s.register(&command{name: "cd", usage: "cd [directory]", summary: "Change directory", completesEntries: true, run: s.cmdCd})
	s.register(&command{name: "touch", usage: "touch <filename>", summary: "Create an empty file", completesEntries: true, run: s.cmdTouch})
	s.register(&command{name: "cat", usage: "cat <filename>", summary: "Print a file", completesEntries: true, run: s.cmdCat})
	s.register(&command{name: "rm", usage: "rm [-r] <path>", summary: "Remove a file or directory", completesEntries: true, run: s.cmdRemove})
	s.register(&command{name: "free", usage: "free", summary: "Show heap usage", run: s.cmdFree})
	s.register(&command{name: "meminfo", usage: "meminfo [-d]", summary: "Dump allocator statistics as JSON", run: s.cmdMeminfo})
	s.register(&command{name: "time", usage: "time", summary: "Show current time", run: s.cmdTime})

	return s
}

func (s *Shell) register(cmd *command) {
	s.commands[cmd.name] = cmd
	s.order = append(s.order, cmd.name)
}

// Execute runs one command line and returns what it prints. Blank lines produce nothing and are
// not recorded in the history.
func (s *Shell) Execute(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	defer func() {
		s.history = append(s.history, strings.TrimSpace(line))
	}()

	name, args := fields[0], fields[1:]
	s.logger.Debug("Shell::Execute", slog.String("command", name), slog.Int("args", len(args)))

	cmd, ok := s.commands[name]
	if !ok {
		return fmt.Sprintf("Unknown command: '%s'\n", name)
	}

	output, err := cmd.run(args)
	switch {
	case err == nil:
		return output
	case errors.Is(err, errUsage):
		return output + fmt.Sprintf("Usage: %s\n", cmd.usage)
	default:
		s.logger.Debug("  Shell::Execute FAILED", slog.String("command", name), slog.Any("error", err))
		return output + fmt.Sprintf("%s: %v\n", name, err)
	}
}

// Complete returns the candidates for completing input: command names that start with it, and,
// once a command taking a path has a partial argument, that command followed by each matching
// entry of the current directory.
func (s *Shell) Complete(input string) []string {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	var candidates []string
	for _, name := range s.order {
		if strings.HasPrefix(name, input) {
			candidates = append(candidates, name)
		}
	}

	parts := strings.Fields(input)
	if len(parts) == 2 {
		if cmd, ok := s.commands[parts[0]]; ok && cmd.completesEntries {
			for _, entry := range s.fs.List("") {
				if strings.HasPrefix(entry.Name, parts[1]) {
					candidates = append(candidates, parts[0]+" "+entry.Name)
				}
			}
		}
	}

	return candidates
}

// History returns every non-blank line executed so far, oldest first
func (s *Shell) History() []string {
	return slices.Clone(s.history)
}

// Exited reports whether the exit command has run
func (s *Shell) Exited() bool {
	return s.exited
}

// Prompt is printed before every command line
func (s *Shell) Prompt() string {
	return "$ "
}
