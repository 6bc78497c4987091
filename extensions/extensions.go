// Package extensions loads named command extensions into the interactions router.
//
// Extensions are a static registry of constructors. Loading is best-effort: an extension
// that fails is logged and skipped, and the bot keeps running without its commands.
package extensions

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clutchbot/extensions/infocommands"
	"clutchbot/interactions"
)

var ErrUnknownExtension = errors.New("unknown extension")

// Deps are the shared resources handed to every extension constructor.
type Deps struct {
	Logger    *zap.Logger
	StartedAt time.Time
}

type Constructor func(Deps) ([]*interactions.Interaction, error)

type Extension struct {
	Name string
	New  Constructor
}

// Builtin lists every extension compiled into the binary.
var Builtin = []Extension{
	{
		Name: "infoCommands",
		New: func(d Deps) ([]*interactions.Interaction, error) {
			return infocommands.New(d.Logger, d.StartedAt), nil
		},
	},
}

// LoadError wraps a failure to load a single extension.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load extension %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type Loader struct {
	log      *zap.Logger
	router   *interactions.Router
	deps     Deps
	registry map[string]Constructor
	loaded   []string
}

// NewLoader creates a loader over the given registry; Builtin is used when none is given.
func NewLoader(log *zap.Logger, router *interactions.Router, deps Deps, registry ...Extension) *Loader {
	if len(registry) == 0 {
		registry = Builtin
	}
	l := &Loader{
		log:      log,
		router:   router,
		deps:     deps,
		registry: make(map[string]Constructor, len(registry)),
	}
	for _, ext := range registry {
		l.registry[ext.Name] = ext.New
	}
	if l.deps.Logger == nil {
		l.deps.Logger = log
	}
	return l
}

// Load makes a single attempt at loading the named extension.
func (l *Loader) Load(name string) (err error) {
	ctor, ok := l.registry[name]
	if !ok {
		return &LoadError{Name: name, Err: ErrUnknownExtension}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{Name: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	deps := l.deps
	deps.Logger = l.deps.Logger.Named(name)
	cmds, err := ctor(deps)
	if err != nil {
		return &LoadError{Name: name, Err: err}
	}
	if err := l.router.Register(cmds...); err != nil {
		return &LoadError{Name: name, Err: err}
	}

	l.loaded = append(l.loaded, name)
	return nil
}

// LoadAll loads each extension in order, logging failures, and returns how many loaded.
func (l *Loader) LoadAll(names []string) int {
	n := 0
	for _, name := range names {
		if err := l.Load(name); err != nil {
			l.log.Error("failed to load extension", zap.String("extension", name), zap.Error(err))
			continue
		}
		l.log.Info("loaded extension", zap.String("extension", name))
		n++
	}
	return n
}

func (l *Loader) Loaded() []string {
	return append([]string(nil), l.loaded...)
}
