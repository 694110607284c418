package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/emulator/emulatortest"
	"github.com/willibrandon/ChronoCPU/pkg/replay"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

func testProgram() state.Program {
	return state.Program{
		RegistersToShow: []state.RegisterID{"EAX"},
		CodeAddress:     0,
		CodeSizeInBytes: 4,
		Code:            []byte{0x90, 0x90, 0x90, 0x90},
	}
}

func newRegistry(t *testing.T, size int) (*Registry, *[]*emulatortest.Engine) {
	t.Helper()
	var engines []*emulatortest.Engine
	r, err := NewRegistry(size, replay.Options{
		Mode: emulator.Mode32,
		Factory: func(mode emulator.Mode) (emulator.Engine, error) {
			e := emulatortest.New(mode)
			engines = append(engines, e)
			return e, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(r.CloseAll)
	return r, &engines
}

func TestOpenAndGet(t *testing.T) {
	r, engines := newRegistry(t, 4)

	idA, a, err := r.Open(testProgram())
	require.NoError(t, err)
	idB, b, err := r.Open(testProgram())
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
	assert.Len(t, *engines, 2)

	_, err = a.StepForward()
	require.NoError(t, err)

	got, err := r.Get(idA)
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Equal(t, state.Version(1), got.Frontier())

	got, err = r.Get(idB)
	require.NoError(t, err)
	assert.Equal(t, state.Version(0), got.Frontier())
	assert.Same(t, b, got)

	_, err = r.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenInvalidProgram(t *testing.T) {
	r, _ := newRegistry(t, 2)
	p := testProgram()
	p.Code = nil

	_, _, err := r.Open(p)
	assert.ErrorIs(t, err, state.ErrInvalidProgram)
	assert.Equal(t, 0, r.Len())
}

func TestEvictionClosesLeastRecentlyUsed(t *testing.T) {
	r, engines := newRegistry(t, 2)

	idA, a, err := r.Open(testProgram())
	require.NoError(t, err)
	idB, b, err := r.Open(testProgram())
	require.NoError(t, err)

	// Touch A so B becomes the eviction candidate.
	_, err = r.Get(idA)
	require.NoError(t, err)

	_, _, err = r.Open(testProgram())
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, replay.Terminated, b.Status())
	assert.True(t, (*engines)[1].Closed)
	assert.Equal(t, replay.Ready, a.Status())

	_, err = r.Get(idB)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseAndCloseAll(t *testing.T) {
	r, _ := newRegistry(t, 4)

	id, ctrl, err := r.Open(testProgram())
	require.NoError(t, err)
	require.NoError(t, r.Close(id))
	assert.Equal(t, replay.Terminated, ctrl.Status())
	assert.ErrorIs(t, r.Close(id), ErrNotFound)

	_, c1, err := r.Open(testProgram())
	require.NoError(t, err)
	readOnly, err := replay.NewReadOnly(c1.Program(), emulator.Mode32, c1.Store(), nil)
	require.NoError(t, err)
	r.Attach(readOnly)
	assert.Len(t, r.IDs(), 2)

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, replay.Terminated, c1.Status())
	assert.Equal(t, replay.Terminated, readOnly.Status())
}
