package debugger

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/willibrandon/ChronoCPU/pkg/recorder"
	"github.com/willibrandon/ChronoCPU/pkg/replay"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// DefaultMaxSteps bounds a continue that hits no breakpoint
const DefaultMaxSteps = 100000

// Options configures the CLI
type Options struct {
	// MaxSteps bounds continue. Zero means DefaultMaxSteps, negative means no bound.
	MaxSteps int
	// Recording configures the save command.
	Recording recorder.Options
}

// CLI represents the command-line interface for the debugger
type CLI struct {
	ctrl      *replay.Controller
	in        *bufio.Scanner
	out       io.Writer
	opts      Options
	prompt    bool
	running   bool
	bpManager *BreakpointManager
}

// NewCLI creates a new CLI instance over a loaded session. The prompt is
// shown only when in is a terminal.
func NewCLI(ctrl *replay.Controller, in io.Reader, out io.Writer, opts Options) *CLI {
	if opts.MaxSteps == 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	prompt := false
	if f, ok := in.(*os.File); ok {
		prompt = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &CLI{
		ctrl:      ctrl,
		in:        bufio.NewScanner(in),
		out:       out,
		opts:      opts,
		prompt:    prompt,
		bpManager: NewBreakpointManager(),
	}
}

// Start begins the command loop. It returns when the input ends, quit is
// entered or ctx is done.
func (c *CLI) Start(ctx context.Context) error {
	c.running = true
	if c.prompt {
		fmt.Fprintln(c.out, "ChronoCPU Debugger CLI")
		c.printHelp()
	}

	for c.running {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.prompt {
			fmt.Fprint(c.out, "(chrono) ")
		}
		if !c.in.Scan() {
			return c.in.Err()
		}
		c.Execute(ctx, c.in.Text())
	}
	return nil
}

// Execute runs a single command line
func (c *CLI) Execute(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "s", "step":
		c.handleStep(args)
	case "b", "backstep":
		c.handleBackstep(args)
	case "c", "continue":
		c.handleContinue(ctx)
	case "j", "jump":
		c.handleJump(args)
	case "i", "info":
		c.handleInfo()
	case "r", "regs":
		c.handleRegisters()
	case "f", "flags":
		c.handleFlags()
	case "m", "mem":
		c.handleMemory(args)
	case "d", "diff":
		c.handleDiff()
	case "bp", "breakpoint":
		c.handleBreakpointCommand(args)
	case "set":
		c.handleSet(args)
	case "save":
		c.handleSave(args)
	case "q", "quit", "exit":
		c.running = false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
		c.printHelp()
	}
}

// GetBreakpoints returns all breakpoints
func (c *CLI) GetBreakpoints() []*Breakpoint {
	return c.bpManager.GetBreakpoints()
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  step (s) [n]         - Step forward n versions")
	fmt.Fprintln(c.out, "  backstep (b) [n]     - Step backward n versions")
	fmt.Fprintln(c.out, "  continue (c)         - Step forward until a breakpoint")
	fmt.Fprintln(c.out, "  jump (j) <version>   - Show a recorded version")
	fmt.Fprintln(c.out, "  info (i)             - Show the version in view")
	fmt.Fprintln(c.out, "  regs (r)             - Show registers")
	fmt.Fprintln(c.out, "  flags (f)            - Show flags")
	fmt.Fprintln(c.out, "  mem (m) <addr> [n]   - Show n bytes of tracked memory")
	fmt.Fprintln(c.out, "  diff (d)             - Show the changes of the version in view")

	fmt.Fprintln(c.out, "\nBreakpoint commands:")
	fmt.Fprintln(c.out, "  bp <loc>             - Add a breakpoint (ip:<hex>, op:<mnemonic>, mem:<hex>, reg:<name>)")
	fmt.Fprintln(c.out, "  bp list              - List all breakpoints")
	fmt.Fprintln(c.out, "  bp remove <id>       - Remove a breakpoint")
	fmt.Fprintln(c.out, "  bp enable <id>       - Enable a breakpoint")
	fmt.Fprintln(c.out, "  bp disable <id>      - Disable a breakpoint")

	fmt.Fprintln(c.out, "\nEditing commands:")
	fmt.Fprintln(c.out, "  set reg <name> <hex> - Write a register before the next step")
	fmt.Fprintln(c.out, "  set mem <addr> <hex> - Write bytes before the next step")
	fmt.Fprintln(c.out, "  save <file>          - Export the recording")

	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)             - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)             - Exit the debugger")
}

func (c *CLI) count(args []string) (int, bool) {
	if len(args) == 0 {
		return 1, true
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		fmt.Fprintf(c.out, "Invalid count: %s\n", args[0])
		return 0, false
	}
	return n, true
}

// handleStep steps forward, executing at the frontier
func (c *CLI) handleStep(args []string) {
	n, ok := c.count(args)
	if !ok {
		return
	}
	for range n {
		snap, err := c.ctrl.StepForward()
		if err != nil {
			fmt.Fprintf(c.out, "Error stepping forward: %v\n", err)
			return
		}
		c.printPosition(snap)
	}
}

// handleBackstep steps backward through recorded versions
func (c *CLI) handleBackstep(args []string) {
	n, ok := c.count(args)
	if !ok {
		return
	}
	for range n {
		snap, err := c.ctrl.StepBackward()
		if err != nil {
			fmt.Fprintf(c.out, "Error stepping backward: %v\n", err)
			return
		}
		c.printPosition(snap)
	}
}

// handleContinue steps forward until a breakpoint triggers. An interrupt
// stops it between two steps.
func (c *CLI) handleContinue(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var hit *Breakpoint
	snap, steps, err := c.ctrl.Run(ctx, func(s state.Snapshot) bool {
		bp, ok := c.bpManager.CheckBreakpoint(s)
		hit = bp
		return ok
	}, c.opts.MaxSteps)

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(c.out, "Interrupted after %d steps\n", steps)
	case errors.Is(err, replay.ErrEndOfRecording):
		fmt.Fprintf(c.out, "End of recording after %d steps\n", steps)
	case err != nil:
		fmt.Fprintf(c.out, "Error continuing execution: %v\n", err)
	case hit != nil:
		fmt.Fprintf(c.out, "Breakpoint %d (%s) hit after %d steps\n", hit.ID, hit, steps)
	default:
		fmt.Fprintf(c.out, "Stopped after %d steps\n", steps)
	}
	if steps > 0 {
		c.printPosition(snap)
	}
}

func (c *CLI) handleJump(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: jump <version>")
		return
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid version: %s\n", args[0])
		return
	}
	snap, err := c.ctrl.JumpToVersion(state.Version(v))
	if err != nil {
		fmt.Fprintf(c.out, "Error jumping: %v\n", err)
		return
	}
	c.printPosition(snap)
}

func (c *CLI) current() (state.Snapshot, bool) {
	snap, err := c.ctrl.Current()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return state.Snapshot{}, false
	}
	return snap, true
}

// handleInfo shows the version in view
func (c *CLI) handleInfo() {
	snap, ok := c.current()
	if !ok {
		return
	}
	fmt.Fprintf(c.out, "Version %d of %d (%s)\n", c.ctrl.ViewVersion(), c.ctrl.Frontier(), c.ctrl.Status())
	fmt.Fprintf(c.out, "  IP:          %s\n", snap.InstructionPointer.Address)
	if inst := snap.CurrentInstruction; inst.Length > 0 {
		fmt.Fprintf(c.out, "  Executed:    %04x: %s (%d bytes)\n", inst.Address, inst.Text, inst.Length)
	} else {
		fmt.Fprintln(c.out, "  Executed:    nothing yet")
	}
	fmt.Fprintf(c.out, "  Changes:     %d\n", len(snap.ChangeHistory))
	if n := c.ctrl.Pending(); n > 0 {
		fmt.Fprintf(c.out, "  Pending:     %d edits\n", n)
	}
}

func (c *CLI) handleRegisters() {
	snap, ok := c.current()
	if !ok {
		return
	}
	for _, r := range snap.Registers {
		fmt.Fprintf(c.out, "%-6s %s\n", r.ID, formatValue(r.Value))
	}
}

func (c *CLI) handleFlags() {
	snap, ok := c.current()
	if !ok {
		return
	}
	var parts []string
	for _, f := range snap.Flags {
		parts = append(parts, fmt.Sprintf("%s=%d", f.ID, bit(f.Set)))
	}
	fmt.Fprintln(c.out, strings.Join(parts, " "))
}

// handleMemory dumps tracked bytes, 16 per line, marking the bytes the
// executed instruction accessed
func (c *CLI) handleMemory(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(c.out, "Usage: mem <addr> [n]")
		return
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid address: %s\n", args[0])
		return
	}
	n := 16
	if len(args) == 2 {
		if n, err = strconv.Atoi(args[1]); err != nil || n < 1 {
			fmt.Fprintf(c.out, "Invalid count: %s\n", args[1])
			return
		}
	}
	snap, ok := c.current()
	if !ok {
		return
	}

	access := make(map[uint64]state.AccessKind, len(snap.ByteInformation.Bytes))
	for _, b := range snap.ByteInformation.Bytes {
		access[b.Address] = b.Access
	}

	var line strings.Builder
	var marks []string
	for i := range n {
		a := addr + uint64(i)
		if i%16 == 0 {
			if line.Len() > 0 {
				fmt.Fprintln(c.out, strings.TrimRight(line.String(), " "))
				line.Reset()
			}
			fmt.Fprintf(&line, "%08x: ", a)
		}
		b, ok := snap.Memory.Byte(a)
		if !ok {
			line.WriteString("-- ")
			continue
		}
		fmt.Fprintf(&line, "%02x ", b)
		if k := access[a]; k != 0 {
			marks = append(marks, fmt.Sprintf("%x:%s", a, k))
		}
	}
	fmt.Fprintln(c.out, strings.TrimRight(line.String(), " "))
	if len(marks) > 0 {
		fmt.Fprintf(c.out, "accessed: %s\n", strings.Join(marks, " "))
	}
}

// handleDiff shows what the instruction of the version in view changed
func (c *CLI) handleDiff() {
	snap, ok := c.current()
	if !ok {
		return
	}
	if len(snap.ChangeHistory) == 0 {
		fmt.Fprintln(c.out, "No changes")
		return
	}
	for _, ch := range snap.ChangeHistory {
		fmt.Fprintln(c.out, formatChange(ch))
	}
}

// handleBreakpointCommand handles all breakpoint-related commands
func (c *CLI) handleBreakpointCommand(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: bp <loc> | bp list | bp remove|enable|disable <id>")
		return
	}

	switch args[0] {
	case "list":
		c.handleListBreakpoints()
	case "remove", "enable", "disable":
		if len(args) != 2 {
			fmt.Fprintf(c.out, "Usage: bp %s <id>\n", args[0])
			return
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid breakpoint ID: %s\n", args[1])
			return
		}
		switch args[0] {
		case "remove":
			err = c.bpManager.RemoveBreakpoint(id)
		case "enable":
			err = c.bpManager.EnableBreakpoint(id)
		case "disable":
			err = c.bpManager.DisableBreakpoint(id)
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Breakpoint %d %sd\n", id, args[0])
	case "add":
		if len(args) != 2 {
			fmt.Fprintln(c.out, "Usage: bp add <loc>")
			return
		}
		c.addBreakpoint(args[1])
	default:
		c.addBreakpoint(args[0])
	}
}

func (c *CLI) addBreakpoint(location string) {
	bp, err := c.bpManager.AddBreakpoint(location)
	if err != nil {
		fmt.Fprintf(c.out, "Error setting breakpoint: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Breakpoint %d set at %s\n", bp.ID, bp)
}

func (c *CLI) handleListBreakpoints() {
	bps := c.bpManager.GetBreakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(c.out, "No breakpoints set")
		return
	}
	for _, bp := range bps {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(c.out, "%d: %s (%s, %d hits)\n", bp.ID, bp, status, bp.Hits)
	}
}

// handleSet queues an edit for the next executed step
func (c *CLI) handleSet(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "Usage: set reg <name> <hex> | set mem <addr> <hex bytes>")
		return
	}
	var err error
	switch args[0] {
	case "reg":
		err = c.setRegister(state.RegisterID(strings.ToUpper(args[1])), args[2])
	case "mem":
		err = c.setMemory(args[1], args[2])
	default:
		err = fmt.Errorf("unknown target %q", args[0])
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if c.ctrl.ViewVersion() < c.ctrl.Frontier() {
		fmt.Fprintf(c.out, "Edit queued; the next step discards versions %d..%d\n", c.ctrl.ViewVersion()+1, c.ctrl.Frontier())
		return
	}
	fmt.Fprintln(c.out, "Edit queued for the next step")
}

func (c *CLI) setRegister(id state.RegisterID, value string) error {
	width, ok := c.ctrl.Arch().Width(id)
	if !ok {
		return fmt.Errorf("unknown register %s", id)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(value), "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid value: %v", err)
	}
	buf := binary.LittleEndian.AppendUint64(nil, v)
	for _, b := range buf[width:] {
		if b != 0 {
			return fmt.Errorf("value %s does not fit %s (%d bytes)", value, id, width)
		}
	}
	return c.ctrl.SetRegister(id, buf[:width])
}

func (c *CLI) setMemory(addr, value string) error {
	a, err := parseAddress(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %v", err)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(value), "0x"))
	if err != nil {
		return fmt.Errorf("invalid bytes: %v", err)
	}
	return c.ctrl.SetMemory(a, data)
}

// handleSave exports the recording to a file
func (c *CLI) handleSave(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: save <file>")
		return
	}
	rec := recorder.Recording{
		Program: c.ctrl.Program(),
		Mode:    c.ctrl.Arch().Mode,
		Store:   c.ctrl.Store(),
	}
	if err := recorder.SaveFile(args[0], rec, c.opts.Recording); err != nil {
		fmt.Fprintf(c.out, "Error saving recording: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Saved %d versions to %s\n", rec.Store.Len(), args[0])
}

func (c *CLI) printPosition(snap state.Snapshot) {
	text := "(initial state)"
	if snap.CurrentInstruction.Length > 0 {
		text = snap.CurrentInstruction.Text
	}
	fmt.Fprintf(c.out, "[%d] ip=%s  %s\n", c.ctrl.ViewVersion(), snap.InstructionPointer.Address, text)
}
