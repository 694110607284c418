package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/emulator/emulatortest"
)

func init() {
	emulator.RegisterEngine("scripted", func(mode emulator.Mode) (emulator.Engine, error) {
		return emulatortest.New(mode), nil
	})
}

const testProgram = `
registers: [eax, esp]
flags: [zf]
memory_address: 0x1000
memory_size: 16
code_address: 0
code_size: 4
code: 90 90 90 90
`

const testConfig = `
engine: scripted
log_level: error
export:
  compression: zstd
  integrity_key: k
  encryption_key: 000102030405060708090a0b0c0d0e0f
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the root command and returns stdout and the error.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"debug", "record", "inspect", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	for _, flag := range []string{"config", "engine", "mode", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ChronoCPU v")
	assert.Contains(t, out, "scripted")
}

func TestDebugCommand(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "nop.yaml", testProgram)

	out, err := execute(t, "step 2\nb\nregs\nquit\n", "debug", "--engine", "scripted", program)
	require.NoError(t, err)
	assert.Contains(t, out, "[1] ip=0001")
	assert.Contains(t, out, "[2] ip=0002")
	assert.Contains(t, out, "ESP    00001010")
	assert.NotContains(t, out, "(chrono)")
}

func TestDebugCommandErrors(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "nop.yaml", testProgram)

	_, err := execute(t, "", "debug", "--engine", "missing", program)
	assert.ErrorIs(t, err, emulator.ErrUnknownEngine)

	_, err = execute(t, "", "debug", "--engine", "scripted", "--mode", "64", program)
	assert.Error(t, err)

	_, err = execute(t, "", "debug", "--engine", "scripted", filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = execute(t, "", "debug")
	assert.Error(t, err)
}

func TestRecordAndInspect(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "nop.yaml", testProgram)
	cfg := writeFile(t, dir, "chrono.yaml", testConfig)
	recording := filepath.Join(dir, "nop.chrono")

	out, err := execute(t, "", "record", "-c", cfg, "-o", recording, "--steps", "3", program)
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded 3 steps (4 versions)")

	out, err = execute(t, "step\ncontinue\nset reg eax 1\njump 1\ninfo\nquit\n", "inspect", "-c", cfg, recording)
	require.NoError(t, err)
	assert.Contains(t, out, "[1] ip=0001")
	assert.Contains(t, out, "End of recording after 2 steps")
	assert.Contains(t, out, "read-only")
	assert.Contains(t, out, "Version 1 of 3 (Ready)")

	// Without the keys from the config the recording cannot be opened.
	_, err = execute(t, "", "inspect", "--engine", "scripted", recording)
	assert.Error(t, err)
}
