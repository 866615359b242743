// SPDX-License-Identifier: EPL-2.0

package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/sandbox"
	"github.com/ik5/sampleprep/internal/sandbox/sandboxtest"
	"github.com/ik5/sampleprep/internal/storage"
	"github.com/ik5/sampleprep/internal/tabsync"
)

const (
	gainV1 = "// gain v1"
	gainV2 = "// gain v2"
)

type env struct {
	reg      *Registry
	sb       *sandbox.Sandbox
	launcher *sandboxtest.Launcher
	store    *storage.Memory
}

func newEnv(t *testing.T, bus tabsync.Bus) *env {
	t.Helper()

	l := sandboxtest.NewLauncher()
	l.Register(gainV1, sandboxtest.Gain())
	l.Register(gainV2, sandboxtest.Gain())

	sb := sandbox.New(l, sandbox.Config{}, logger.Discard(), nil)
	t.Cleanup(func() { _ = sb.Close() })

	mem := storage.NewMemory()
	reg := New(mem.Collection(storage.PluginStore), sb, bus, logger.Discard(), 0)
	t.Cleanup(reg.Close)
	return &env{reg: reg, sb: sb, launcher: l, store: mem}
}

func hooks(choice Choice, rename func(string) string) (Hooks, *[]string) {
	var asked []string
	return Hooks{
		ConfirmName: func(_ context.Context, proposed string) (string, error) {
			asked = append(asked, "name:"+proposed)
			if rename != nil {
				return rename(proposed), nil
			}
			return proposed, nil
		},
		ConfirmReplace: func(_ context.Context, name string) (Choice, error) {
			asked = append(asked, "replace:"+name)
			return choice, nil
		},
	}, &asked
}

func TestContentID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ContentID("a"), ContentID("a"))
	assert.NotEqual(t, ContentID("a"), ContentID("b"))
	assert.Len(t, ContentID(""), 64)
}

func TestAdd_Outcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, nil)

	name, out, err := e.reg.Add(ctx, "gain.js", gainV1, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, "gain.js", name)
	assert.Equal(t, OutcomeAdded, out)
	assert.Equal(t, sandbox.StatusInstalled, e.sb.Status("gain.js"))

	_, out, err = e.reg.Add(ctx, "gain.js", gainV1, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExists, out)

	_, _, err = e.reg.Add(ctx, "gain.js", gainV2, Hooks{})
	assert.ErrorIs(t, err, ErrNoHooks)

	h, asked := hooks(ChoiceUseExisting, nil)
	_, out, err = e.reg.Add(ctx, "gain.js", gainV2, h)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUsedExisting, out)
	assert.Equal(t, []string{"replace:gain.js"}, *asked)

	src, err := e.reg.Source(ctx, "gain.js")
	require.NoError(t, err)
	assert.Equal(t, gainV1, src)
}

func TestAdd_Replace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, nil)
	_, _, err := e.reg.Add(ctx, "gain.js", gainV1, Hooks{})
	require.NoError(t, err)

	h, _ := hooks(ChoiceReplace, nil)
	name, out, err := e.reg.Add(ctx, "gain.js", gainV2, h)
	require.NoError(t, err)
	assert.Equal(t, "gain.js", name)
	assert.Equal(t, OutcomeReplaced, out)

	src, err := e.reg.Source(ctx, "gain.js")
	require.NoError(t, err)
	assert.Equal(t, gainV2, src)
	assert.Equal(t, 1, e.launcher.Active())
}

func TestAdd_ChangeName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, nil)
	_, _, err := e.reg.Add(ctx, "gain.js", gainV1, Hooks{})
	require.NoError(t, err)

	h, asked := hooks(ChoiceChangeName, nil)
	name, out, err := e.reg.Add(ctx, "gain.js", gainV2, h)
	require.NoError(t, err)
	assert.Equal(t, "gain 2.js", name)
	assert.Equal(t, OutcomeAdded, out)
	assert.Equal(t, []string{"replace:gain.js", "name:gain 2.js"}, *asked)

	names, err := e.reg.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gain 2.js", "gain.js"}, names)

	// the user may type another name instead of the proposal
	h, _ = hooks(ChoiceChangeName, func(string) string { return "boost.js" })
	l := e.launcher
	l.Register("// v3", sandboxtest.Gain())
	name, _, err = e.reg.Add(ctx, "gain.js", "// v3", h)
	require.NoError(t, err)
	assert.Equal(t, "boost.js", name)
}

func TestAdd_RejectsBadNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, nil)
	_, _, err := e.reg.Add(ctx, "gain.js", gainV1, Hooks{})
	require.NoError(t, err)

	for _, bad := range []string{"", "fx/gain.js", `fx\gain.js`} {
		_, _, err = e.reg.Add(ctx, bad, gainV2, Hooks{})
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", bad)

		h, _ := hooks(ChoiceChangeName, func(string) string { return bad })
		_, _, err = e.reg.Add(ctx, "gain.js", gainV2, h)
		assert.ErrorIs(t, err, ErrInvalidName, "confirmed name %q", bad)
	}

	names, err := e.reg.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gain.js"}, names)
	assert.Equal(t, []string{"gain.js"}, e.sb.Installed())
}

func TestNextFreeName(t *testing.T) {
	t.Parallel()

	taken := map[string]bool{"gain 2.js": true, "gain 3.js": true}
	got := nextFreeName("gain.js", func(n string) bool { return taken[n] })
	assert.Equal(t, "gain 4.js", got)
}

func TestAddFromFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	e := newEnv(t, nil)
	e.reg.maxSize = 64

	good := filepath.Join(dir, "Gain.JS")
	require.NoError(t, os.WriteFile(good, []byte(gainV1), 0o600))
	name, out, err := e.reg.AddFromFile(ctx, good, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, "gain.js", name)
	assert.Equal(t, OutcomeAdded, out)

	big := filepath.Join(dir, "big.js")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", 65)), 0o600))
	_, _, err = e.reg.AddFromFile(ctx, big, Hooks{})
	assert.ErrorIs(t, err, ErrTooLarge)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o600))
	_, _, err = e.reg.AddFromFile(ctx, txt, Hooks{})
	assert.ErrorIs(t, err, ErrNotJS)
}

func TestStatusAndRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, nil)
	_, _, err := e.reg.Add(ctx, "gain.js", gainV1, Hooks{})
	require.NoError(t, err)

	st, err := e.reg.Status(ctx, "gain.js")
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusInstalled, st)

	e.sb.Remove("gain.js")
	st, err = e.reg.Status(ctx, "gain.js")
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusBroken, st)

	require.NoError(t, e.reg.Reload(ctx, "gain.js"))
	st, _ = e.reg.Status(ctx, "gain.js")
	assert.Equal(t, sandbox.StatusInstalled, st)

	require.NoError(t, e.reg.Remove(ctx, "gain.js"))
	st, err = e.reg.Status(ctx, "gain.js")
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusMissing, st)

	_, err = e.reg.Source(ctx, "gain.js")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInitInstallsStoredAndFollowsTabs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := tabsync.NewHub(logger.Discard(), nil)
	tabA, tabB := hub.Tab(), hub.Tab()
	defer tabA.Close()
	defer tabB.Close()

	a := newEnv(t, tabA)
	_, _, err := a.reg.Add(ctx, "gain.js", gainV1, Hooks{})
	require.NoError(t, err)

	// tab b shares a's storage but has its own sandbox
	lb := sandboxtest.NewLauncher()
	lb.Register(gainV1, sandboxtest.Gain())
	lb.Register(gainV2, sandboxtest.Gain())
	sbB := sandbox.New(lb, sandbox.Config{}, logger.Discard(), nil)
	defer sbB.Close()
	regB := New(a.store.Collection(storage.PluginStore), sbB, tabB, logger.Discard(), 0)
	defer regB.Close()

	require.NoError(t, regB.Init(ctx))
	assert.Equal(t, sandbox.StatusInstalled, sbB.Status("gain.js"))

	a.launcher.Register("// delay", sandboxtest.Gain())
	lb.Register("// delay", sandboxtest.Gain())
	_, _, err = a.reg.Add(ctx, "delay.js", "// delay", Hooks{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sbB.Status("delay.js") == sandbox.StatusInstalled },
		time.Second, 5*time.Millisecond)

	require.NoError(t, a.reg.Remove(ctx, "delay.js"))
	require.Eventually(t, func() bool { return sbB.Status("delay.js") == sandbox.StatusMissing },
		time.Second, 5*time.Millisecond)
}
