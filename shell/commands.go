package shell

import (
	"fmt"
	"strings"
	"time"

	"github.com/tinykern/kcore/internal/output"
	"github.com/tinykern/kcore/memutils"
)

const timestampLayout = "2006-01-02 15:04:05"

func (s *Shell) cmdHelp(args []string) (string, error) {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range s.order {
		fmt.Fprintf(&b, "  %-8s - %s\n", name, s.commands[name].summary)
	}
	return b.String(), nil
}

func (s *Shell) cmdClear(args []string) (string, error) {
	return "\x1b[2J\x1b[H", nil
}

func (s *Shell) cmdHistory(args []string) (string, error) {
	var b strings.Builder
	for i, line := range s.history {
		fmt.Fprintf(&b, "%d: %s\n", i, line)
	}
	return b.String(), nil
}

func (s *Shell) cmdExit(args []string) (string, error) {
	s.exited = true
	return "Shutting down...\n", nil
}

func (s *Shell) cmdList(args []string) (string, error) {
	long := false
	path := ""
	for _, arg := range args {
		switch {
		case arg == "-l":
			long = true
		case strings.HasPrefix(arg, "-"):
			return "", errUsage
		case path != "":
			return "", errUsage
		default:
			path = arg
		}
	}

	entries := s.fs.List(path)
	if long {
		rows := make([][]string, 0, len(entries))
		for _, entry := range entries {
			kind, name := "file", entry.Name
			if entry.IsDir {
				kind, name = "dir", entry.Name+"/"
			}
			rows = append(rows, []string{kind, fmt.Sprint(entry.Size), entry.Modified.Format(timestampLayout), name})
		}
		var b strings.Builder
		output.PrintTable(&b, []string{"Type", "Size", "Modified", "Name"}, rows)
		return b.String(), nil
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir {
			fmt.Fprintf(&b, "%s/\n", entry.Name)
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name)
		}
	}
	return b.String(), nil
}

func (s *Shell) cmdEcho(args []string) (string, error) {
	words, redirect, err := parseRedirect(args)
	if err != nil {
		return "", err
	}

	text := strings.Join(words, " ") + "\n"
	if redirect == nil {
		return text, nil
	}

	return "", s.fs.WriteFile(redirect.target, []byte(text), redirect.appending)
}

func (s *Shell) cmdPwd(args []string) (string, error) {
	return "/" + strings.Join(s.fs.CurrentPath(), "/") + "\n", nil
}

func (s *Shell) cmdMkdir(args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}
	return "", s.fs.CreateDirectory(args[0])
}

func (s *Shell) cmdCd(args []string) (string, error) {
	switch len(args) {
	case 0:
		return "", s.fs.ChangeDirectory("/")
	case 1:
		return "", s.fs.ChangeDirectory(args[0])
	default:
		return "", errUsage
	}
}

func (s *Shell) cmdTouch(args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}
	if err := s.fs.CreateFile(args[0], nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("File created: %s\n", args[0]), nil
}

func (s *Shell) cmdCat(args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}

	content, err := s.fs.ReadFile(args[0])
	if err != nil {
		return "", err
	}

	text := string(content)
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text, nil
}

func (s *Shell) cmdRemove(args []string) (string, error) {
	recursive := false
	if len(args) > 0 && args[0] == "-r" {
		recursive = true
		args = args[1:]
	}
	if len(args) != 1 {
		return "", errUsage
	}
	return "", s.fs.Remove(args[0], recursive)
}

func (s *Shell) cmdFree(args []string) (string, error) {
	region := s.allocator.Region()
	if region == nil {
		return "heap not initialized\n", nil
	}

	rows := [][]string{}
	for _, class := range s.allocator.SizeClassStatistics() {
		rows = append(rows, []string{
			fmt.Sprint(class.ClassSize),
			fmt.Sprint(class.Minted),
			fmt.Sprint(class.Free),
			fmt.Sprint(class.Lent),
		})
	}

	var total memutils.DetailedStatistics
	total.Clear()
	s.allocator.CalculateStatistics(&total)

	largest := 0
	if total.UnusedRangeCount > 0 {
		largest = total.UnusedRangeSizeMax
	}

	var b strings.Builder
	output.PrintTable(&b, []string{"Class", "Minted", "Free", "Lent"}, rows)
	b.WriteString("\n")
	output.PrintPairs(&b, [][2]string{
		{"heap", fmt.Sprintf("%d bytes at %s", region.Size(), region.Base())},
		{"arena used", fmt.Sprintf("%d bytes in %d blocks", total.AllocationBytes, total.AllocationCount)},
		{"arena free", fmt.Sprintf("%d bytes in %d ranges", total.FreeBytes(), total.UnusedRangeCount)},
		{"largest free range", fmt.Sprintf("%d bytes", largest)},
	})
	return b.String(), nil
}

func (s *Shell) cmdMeminfo(args []string) (string, error) {
	detailed := false
	for _, arg := range args {
		if arg != "-d" {
			return "", errUsage
		}
		detailed = true
	}
	return s.allocator.BuildStatsString(detailed) + "\n", nil
}

func (s *Shell) cmdTime(args []string) (string, error) {
	offset := s.options.TimezoneOffset
	now := s.options.Clock().In(time.FixedZone("", offset*60*60))
	return fmt.Sprintf("Current time (UTC%+d): %s\n", offset, now.Format("15:04:05")), nil
}
