// SPDX-License-Identifier: EPL-2.0

// Package plugins manages user-supplied plugin sources: storage,
// duplicate detection, installation into the sandbox, and keeping other
// tabs in step.
package plugins

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/sandbox"
	"github.com/ik5/sampleprep/internal/storage"
	"github.com/ik5/sampleprep/internal/tabsync"
)

// DefaultMaxSize is the largest plugin file accepted.
const DefaultMaxSize = 5_000_000

type Outcome string

const (
	OutcomeAdded        Outcome = "added"
	OutcomeReplaced     Outcome = "replaced"
	OutcomeUsedExisting Outcome = "used-existing"
	OutcomeExists       Outcome = "exists"
)

// Choice answers "a different plugin already has this name".
type Choice string

const (
	ChoiceReplace     Choice = "replace"
	ChoiceUseExisting Choice = "use-existing"
	ChoiceChangeName  Choice = "change-name"
)

// Hooks let the caller settle name conflicts. ConfirmName may return a
// different name than proposed.
type Hooks struct {
	ConfirmName    func(ctx context.Context, proposed string) (string, error)
	ConfirmReplace func(ctx context.Context, name string) (Choice, error)
}

// Sandbox is what the registry needs from the plugin sandbox.
type Sandbox interface {
	Install(ctx context.Context, name, source string) (map[string]sandbox.ParamDef, error)
	ReplaceSource(ctx context.Context, name, source string) (map[string]sandbox.ParamDef, error)
	Remove(name string)
	Status(name string) sandbox.Status
	Params(name string) (map[string]sandbox.ParamDef, bool)
}

type Registry struct {
	coll    storage.Collection
	sandbox Sandbox
	bus     tabsync.Bus
	log     logger.Logger
	maxSize int64

	unsubscribe func()
}

func New(coll storage.Collection, sb Sandbox, bus tabsync.Bus, log logger.Logger, maxSize int64) *Registry {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Registry{
		coll:    coll,
		sandbox: sb,
		bus:     bus,
		log:     log.Module("plugins"),
		maxSize: maxSize,
	}
}

// ContentID is the content address of a plugin source.
func ContentID(source string) string {
	sum := blake2b.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// AddFromFile reads a plugin from disk and adds it under its lowercased
// base name.
func (r *Registry) AddFromFile(ctx context.Context, path string, hooks Hooks) (string, Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if info.Size() > r.maxSize {
		return "", "", fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	name := strings.ToLower(filepath.Base(path))
	if !strings.HasSuffix(name, ".js") {
		return "", "", ErrNotJS
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the user
	if err != nil {
		return "", "", err
	}
	return r.Add(ctx, name, string(data), hooks)
}

// Add stores and installs source under name. Byte-identical content already
// stored under the name is reported as OutcomeExists. Different content
// under a taken name is resolved through hooks: replace the existing
// plugin, keep it, or pick a new name.
func (r *Registry) Add(ctx context.Context, name, source string, hooks Hooks) (string, Outcome, error) {
	if err := validName(name); err != nil {
		return "", "", err
	}

	existing, err := r.coll.Keys(ctx)
	if err != nil {
		return "", "", err
	}
	taken := func(n string) bool { return slices.Contains(existing, n) }

	contentID := ContentID(source)
	final := name
	replace := false

	for {
		if taken(final) {
			stored, err := r.coll.Get(ctx, final)
			if err != nil {
				return "", "", err
			}
			if ContentID(string(stored)) == contentID {
				return final, OutcomeExists, nil
			}
			if hooks.ConfirmReplace == nil || hooks.ConfirmName == nil {
				return "", "", fmt.Errorf("%w: %s", ErrNoHooks, final)
			}

			choice, err := hooks.ConfirmReplace(ctx, final)
			if err != nil {
				return "", "", err
			}
			switch choice {
			case ChoiceUseExisting:
				return final, OutcomeUsedExisting, nil
			case ChoiceReplace:
				replace = true
			case ChoiceChangeName:
				final = nextFreeName(final, taken)
			default:
				return "", "", fmt.Errorf("%w: %q", ErrUnknownReply, choice)
			}
			if replace {
				break
			}
		}

		// only ask when the original name was taken
		if final != name {
			confirmed, err := hooks.ConfirmName(ctx, final)
			if err != nil {
				return "", "", err
			}
			if err := validName(confirmed); err != nil {
				return "", "", err
			}
			final = confirmed
		}
		if !taken(final) {
			break
		}
	}

	action := tabsync.ActionCreate
	outcome := OutcomeAdded
	if replace {
		if r.sandbox.Status(final) == sandbox.StatusInstalled {
			_, err = r.sandbox.ReplaceSource(ctx, final, source)
		} else {
			r.sandbox.Remove(final)
			_, err = r.sandbox.Install(ctx, final, source)
		}
		action, outcome = tabsync.ActionEdit, OutcomeReplaced
	} else {
		_, err = r.sandbox.Install(ctx, final, source)
	}
	if err != nil {
		return "", "", err
	}

	if err := r.coll.Set(ctx, final, []byte(source)); err != nil {
		return "", "", err
	}
	r.publish(ctx, final, action)

	r.log.Info("plugin stored", logger.String("plugin", final), logger.String("outcome", string(outcome)))
	return final, outcome, nil
}

// nextFreeName proposes "<base> 2.js", "<base> 3.js", ... skipping taken
// names.
func nextFreeName(name string, taken func(string) bool) string {
	base := strings.TrimSuffix(name, ".js")
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s %d.js", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// Remove uninstalls and deletes a plugin. Samples referring to it are the
// caller's concern.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.sandbox.Remove(name)
	if err := r.coll.Remove(ctx, name); err != nil {
		return err
	}
	r.publish(ctx, name, tabsync.ActionDelete)
	return nil
}

func (r *Registry) Source(ctx context.Context, name string) (string, error) {
	data, err := r.coll.Get(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Names lists stored plugins, installed or not.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	return r.coll.Keys(ctx)
}

// Status is installed when running, broken when stored but not running,
// and missing otherwise.
func (r *Registry) Status(ctx context.Context, name string) (sandbox.Status, error) {
	if r.sandbox.Status(name) == sandbox.StatusInstalled {
		return sandbox.StatusInstalled, nil
	}
	_, err := r.coll.Get(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return sandbox.StatusMissing, nil
	}
	if err != nil {
		return "", err
	}
	return sandbox.StatusBroken, nil
}

func (r *Registry) Params(name string) (map[string]sandbox.ParamDef, bool) {
	return r.sandbox.Params(name)
}

// Reload reinstalls a broken plugin from storage.
func (r *Registry) Reload(ctx context.Context, name string) error {
	source, err := r.Source(ctx, name)
	if err != nil {
		return err
	}
	if r.sandbox.Status(name) == sandbox.StatusInstalled {
		_, err = r.sandbox.ReplaceSource(ctx, name, source)
		return err
	}
	r.sandbox.Remove(name)
	_, err = r.sandbox.Install(ctx, name, source)
	return err
}

// Init installs every stored plugin and starts following other tabs'
// plugin changes. A plugin that fails to install is logged and left broken.
func (r *Registry) Init(ctx context.Context) error {
	type stored struct{ name, source string }
	var all []stored
	err := r.coll.Iterate(ctx, func(name string, data []byte) error {
		all = append(all, stored{name, string(data)})
		return nil
	})
	if err != nil {
		return err
	}

	for _, p := range all {
		if _, err := r.sandbox.Install(ctx, p.name, p.source); err != nil {
			r.log.Warn("stored plugin failed to install", logger.String("plugin", p.name), logger.Error(err))
		}
	}

	if r.bus != nil && r.unsubscribe == nil {
		r.unsubscribe = r.bus.Subscribe(tabsync.DataPlugin, r.onTabEvent)
	}
	return nil
}

// Close stops following other tabs.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Registry) onTabEvent(ev tabsync.Event) {
	ctx := context.Background()

	for _, name := range ev.IDs {
		var err error
		switch ev.Action {
		case tabsync.ActionCreate:
			var source string
			if source, err = r.Source(ctx, name); err == nil {
				r.sandbox.Remove(name)
				_, err = r.sandbox.Install(ctx, name, source)
			}
		case tabsync.ActionEdit:
			err = r.Reload(ctx, name)
		case tabsync.ActionDelete:
			// storage is shared, only the local context goes
			r.sandbox.Remove(name)
		}
		if err != nil {
			r.log.Warn("applying plugin change from another tab",
				logger.String("plugin", name), logger.String("action", string(ev.Action)), logger.Error(err))
		}
	}
}

func (r *Registry) publish(ctx context.Context, name string, action tabsync.Action) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, tabsync.DataPlugin, []string{name}, action); err != nil {
		r.log.Warn("broadcasting plugin change", logger.String("plugin", name), logger.Error(err))
	}
}

// validName rejects names that cannot key the plugin store.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
