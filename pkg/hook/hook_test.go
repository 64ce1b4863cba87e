package hook

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/dump"
)

func crash(divisor int) int {
	defer Guard()
	return 10 / divisor
}

func TestInstallIdempotent(t *testing.T) {
	t.Cleanup(Uninstall)

	first := dump.NewMemoryStore()
	assert.True(t, Install(first))
	assert.False(t, Install(dump.NewMemoryStore()))
	assert.True(t, Installed())

	Uninstall()
	assert.False(t, Installed())
	assert.True(t, Install(first))
}

func TestGuardDumpsPanic(t *testing.T) {
	t.Cleanup(Uninstall)
	var logs bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { SetLogger(nil) })

	store := dump.NewMemoryStore()
	require.True(t, Install(store))

	assert.Panics(t, func() { crash(0) })

	d, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())
	x := d.Root()
	assert.True(t, x.Panic)
	assert.Equal(t, "runtime error: integer divide by zero", x.Str)
	require.NotEmpty(t, x.Frames)
	assert.Equal(t, "crash", x.Frame(x.Len()-1).FuncName)

	assert.Equal(t, d.ID, Last().ID)
	assert.Contains(t, logs.String(), "error dumped")
}

func TestGuardWithoutPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Guard()
	})
}

func TestReport(t *testing.T) {
	t.Cleanup(Uninstall)
	assert.Nil(t, Report(nil))

	store := dump.NewMemoryStore()
	require.True(t, Install(store, capture.WithMaxChain(1)))

	d := Report(capture.Wrap(errors.New("disk full"), "fatal"))
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, "fatal", d.Root().Str)
	assert.Equal(t, "TestReport", d.Root().Frame(0).FuncName)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, d.ID, loaded.ID)
}

func TestReportWithoutStore(t *testing.T) {
	Uninstall()
	d := Report(errors.New("nowhere to go"))
	require.NotNil(t, d)
	assert.Same(t, d, Last())
}
