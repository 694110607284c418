package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/recorder"
	"github.com/willibrandon/ChronoCPU/pkg/replay"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	mode, err := cfg.EmulatorMode()
	require.NoError(t, err)
	assert.Equal(t, emulator.Mode32, mode)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	opts, err := cfg.RecorderOptions()
	require.NoError(t, err)
	assert.Equal(t, recorder.ZstdCompression, opts.Compression)
	assert.False(t, opts.Security.EnableEncryption)
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "chrono.yaml", `
engine: unicorn
mode: 16
log_level: debug
max_sessions: 2
export:
  compression: none
  integrity_key: s3cret
  encryption_key: 000102030405060708090a0b0c0d0e0f
run:
  max_steps: 50
  keyframe_interval: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Mode)
	assert.Equal(t, 2, cfg.MaxSessions)
	assert.Equal(t, 50, cfg.Run.MaxSteps)
	assert.Equal(t, 8, cfg.Run.KeyframeInterval)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	opts, err := cfg.RecorderOptions()
	require.NoError(t, err)
	assert.Equal(t, recorder.NoCompression, opts.Compression)
	assert.True(t, opts.Security.EnableIntegrityCheck)
	assert.Equal(t, []byte("s3cret"), opts.Security.IntegrityKey)
	assert.True(t, opts.Security.EnableEncryption)
	assert.Len(t, opts.Security.EncryptionKey, 16)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse([]byte("log_level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "unicorn", cfg.Engine)
	assert.Equal(t, 100000, cfg.Run.MaxSteps)
	assert.Equal(t, replay.DefaultKeyframeInterval, cfg.Run.KeyframeInterval)

	cfg, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsBadValues(t *testing.T) {
	testCases := map[string]string{
		"unknown key":    "engines: unicorn\n",
		"mode":           "mode: 64\n",
		"log level":      "log_level: loud\n",
		"sessions":       "max_sessions: 0\n",
		"keyframes":      "run: {keyframe_interval: 0}\n",
		"compression":    "export: {compression: gzip}\n",
		"key not hex":    "export: {encryption_key: zz}\n",
		"key wrong size": "export: {encryption_key: 0001}\n",
		"empty engine":   "engine: \"\"\n",
		"malformed yaml": "mode: [\n",
	}
	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadProgram(t *testing.T) {
	path := writeFile(t, "program.yaml", `
registers: [eax, EBX]
flags: [zf, CF]
memory_address: 0x1000
memory_size: 16
code_address: 0x0
code_size: 32
code: |
  83 c0 02
  a2 00 10 00 00
  40
`)
	p, err := LoadProgram(path)
	require.NoError(t, err)

	assert.Equal(t, []state.RegisterID{"EAX", "EBX"}, p.RegistersToShow)
	assert.Equal(t, []state.FlagID{"ZF", "CF"}, p.FlagsToShow)
	assert.Equal(t, uint64(0x1000), p.MemoryAddress)
	assert.Equal(t, uint64(16), p.MemorySizeInBytes)
	assert.Equal(t, uint64(32), p.CodeSizeInBytes)
	assert.Equal(t, []byte{0x83, 0xc0, 0x02, 0xa2, 0x00, 0x10, 0x00, 0x00, 0x40}, p.Code)
}

func TestParseProgramDefaultsCodeSize(t *testing.T) {
	p, err := ParseProgram([]byte("code: 0x9090\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p.CodeSizeInBytes)
	assert.Equal(t, []byte{0x90, 0x90}, p.Code)
}

func TestParseProgramInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"no code":       "registers: [eax]\n",
		"odd hex":       "code: 909\n",
		"unknown key":   "code: 90\nstack: 4\n",
		"too long code": "code: 909090\ncode_size: 2\n",
		"overlap":       "code: 90\ncode_size: 16\nmemory_address: 8\nmemory_size: 16\n",
		"duplicate":     "code: 90\nregisters: [eax, EAX]\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProgram([]byte(doc))
			assert.ErrorIs(t, err, state.ErrInvalidProgram)
		})
	}
}

func TestExampleFiles(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "examples", "chrono.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxSessions)

	p, err := LoadProgram(filepath.Join("..", "..", "examples", "add.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 11, len(p.Code))

	p, err = LoadProgram(filepath.Join("..", "..", "examples", "real16.yaml"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), p.CodeSizeInBytes)
	require.NoError(t, emulator.ArchFor(emulator.Mode16).Check(p))
}
