// Package shell formats, runs and multiplexes shell commands.
//
// Commands are built from templates with placeholders and piped together:
//
//	cmd, err := shell.New("grep -r ? %s", pattern, dir)
//	cmd, err = cmd.Pipe("sort | uniq -c")
//	for line, err := range cmd.With(shell.WithRuntime(5*time.Second)).Lines(ctx) {
//		...
//	}
//
// Output Multiplexing:
//
//	process ──stdout──┐
//	                  ├── ReadHandles ── Line{Handle, Text, Offset}
//	process ──stderr──┘
//
// ReadHandles reads every handle once per cycle without blocking and backs
// off while the handles are quiet. Offsets are tracked per handle, so a
// consumer that records Positions can resume a file-backed stream later
// without losing or repeating lines.
//
// Failures surface as the last element of the sequence: *ExitError for a
// non-zero exit code and *RuntimeExceededError when the runtime budget ran
// out. Abandoning the sequence kills the process group.
package shell
