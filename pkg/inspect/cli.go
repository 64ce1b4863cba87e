package inspect

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CLI is a line oriented post-mortem debugger over a cursor
type CLI struct {
	cursor  *Cursor
	in      io.Reader
	out     io.Writer
	prompt  string
	running bool
}

// NewCLI creates a CLI reading commands from in and writing to out
func NewCLI(c *Cursor, in io.Reader, out io.Writer) *CLI {
	return &CLI{cursor: c, in: in, out: out, prompt: "(tbdump) "}
}

// Start runs the command loop until quit or the end of input
func (c *CLI) Start() {
	c.running = true
	scanner := bufio.NewScanner(c.in)

	fmt.Fprintln(c.out, "tbdump post-mortem debugger, type help for commands")
	fmt.Fprint(c.out, c.cursor.Where())

	for c.running {
		fmt.Fprint(c.out, c.prompt)
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return
		}
		c.handleCommand(strings.TrimSpace(scanner.Text()))
	}
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nNavigation:")
	fmt.Fprintln(c.out, "  where (w)          - Show the selected exception and frame")
	fmt.Fprintln(c.out, "  up (u)             - Select the calling frame")
	fmt.Fprintln(c.out, "  down (d)           - Select the called frame")
	fmt.Fprintln(c.out, "  frame (f) <n>      - Select frame n")
	fmt.Fprintln(c.out, "  cause              - Select the error this one was raised from")
	fmt.Fprintln(c.out, "  context            - Select the error raised from this one")
	fmt.Fprintln(c.out, "  exception (e) <n>  - Select exception n, root cause is 0")
	fmt.Fprintln(c.out, "\nVariables:")
	fmt.Fprintln(c.out, "  locals (ls)        - List the variables of the selected frame")
	fmt.Fprintln(c.out, "  print (p) <name>   - Print a variable")
	fmt.Fprintln(c.out, "\nBreakpoints:")
	fmt.Fprintln(c.out, "  breakpoint (bp) <file:line|func:name|type:name> - Set a breakpoint")
	fmt.Fprintln(c.out, "  bp list | remove <id> | enable <id> | disable <id>")
	fmt.Fprintln(c.out, "  continue (c)       - Move to the next breakpoint hit")
	fmt.Fprintln(c.out, "  rewind (r)         - Move before the first frame of the root cause")
	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)           - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)           - Exit the debugger")
}

func (c *CLI) handleCommand(input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "w", "where", "bt":
		fmt.Fprint(c.out, c.cursor.Where())
	case "u", "up":
		c.move(c.cursor.Up())
	case "d", "down":
		c.move(c.cursor.Down())
	case "f", "frame":
		c.selectIndex(args, c.cursor.SelectFrame)
	case "cause":
		c.move(c.cursor.Cause())
	case "context":
		c.move(c.cursor.Context())
	case "e", "exception":
		c.selectIndex(args, c.cursor.SelectException)
	case "ls", "locals":
		c.handleLocals()
	case "p", "print":
		c.handlePrint(args)
	case "bp", "breakpoint":
		c.handleBreakpointCommand(args)
	case "c", "continue":
		c.handleContinue()
	case "r", "rewind":
		c.cursor.Rewind()
		fmt.Fprintln(c.out, "Rewound to the root cause")
	case "q", "quit", "exit":
		c.running = false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
	}
}

func (c *CLI) move(err error) {
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.showFrame()
}

func (c *CLI) selectIndex(args []string, sel func(int) error) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: <command> <index>")
		return
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid index: %v\n", err)
		return
	}
	c.move(sel(i))
}

func (c *CLI) showFrame() {
	f := c.cursor.Frame()
	if f == nil {
		fmt.Fprintf(c.out, "%s (no frames)\n", c.cursor.Exception())
		return
	}
	fmt.Fprintf(c.out, "%s:%d in %s\n", f.Filename, f.Lineno, f.FuncName)
	if f.CodeLine != "" {
		fmt.Fprintf(c.out, "    %s\n", f.CodeLine)
	}
}

func (c *CLI) handleLocals() {
	names := c.cursor.Locals()
	if len(names) == 0 {
		fmt.Fprintln(c.out, "No variables")
		return
	}
	for _, name := range names {
		v, _ := c.cursor.Local(name)
		fmt.Fprintf(c.out, "  %s = %s\n", name, v)
	}
}

func (c *CLI) handlePrint(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: print <name>")
		return
	}
	v, ok := c.cursor.Local(args[0])
	if !ok {
		fmt.Fprintf(c.out, "No variable %s in this frame\n", args[0])
		return
	}
	fmt.Fprintf(c.out, "%s = %s\n", args[0], v)
	for _, f := range v.Fields {
		fmt.Fprintf(c.out, "  .%s = %s\n", f.Name, f.Value)
	}
	for _, e := range v.Entries {
		fmt.Fprintf(c.out, "  [%s] = %s\n", e.Key, e.Value)
	}
	for i, e := range v.Elems {
		fmt.Fprintf(c.out, "  [%d] = %s\n", i, e)
	}
}

func (c *CLI) handleBreakpointCommand(args []string) {
	bm := c.cursor.Breakpoints()
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: breakpoint <file:line|func:name|type:name> or <command> [args]")
		fmt.Fprintln(c.out, "Commands: list, remove, enable, disable")
		return
	}

	command := args[0]
	switch command {
	case "list":
		bps := bm.Breakpoints()
		if len(bps) == 0 {
			fmt.Fprintln(c.out, "No breakpoints set")
			return
		}
		for _, bp := range bps {
			fmt.Fprintf(c.out, "  %s\n", bp)
		}
	case "remove", "enable", "disable":
		if len(args) < 2 {
			fmt.Fprintf(c.out, "Usage: bp %s <id>\n", command)
			return
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid breakpoint ID: %v\n", err)
			return
		}
		switch command {
		case "remove":
			err = bm.RemoveBreakpoint(id)
		case "enable":
			err = bm.EnableBreakpoint(id)
		default:
			err = bm.DisableBreakpoint(id)
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Breakpoint %d: %sd\n", id, command)
	default:
		bp, err := bm.AddBreakpoint(strings.Join(args, " "))
		if err != nil {
			fmt.Fprintf(c.out, "Error setting breakpoint: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Set %s\n", bp)
	}
}

func (c *CLI) handleContinue() {
	bp, ok := c.cursor.Continue()
	if !ok {
		fmt.Fprintln(c.out, "No further breakpoint hits")
		return
	}
	fmt.Fprintf(c.out, "Hit %s in exception %d\n", bp, c.cursor.ExceptionIndex())
	c.showFrame()
}
