package extensions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"clutchbot/interactions"
)

func fixed(names ...string) Constructor {
	return func(Deps) ([]*interactions.Interaction, error) {
		out := []*interactions.Interaction{}
		for _, n := range names {
			out = append(out, &interactions.Interaction{
				ApplicationCommand: &discordgo.ApplicationCommand{Name: n},
				Handler: func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
					return nil
				},
			})
		}
		return out, nil
	}
}

func TestLoadBuiltin(t *testing.T) {
	log := zaptest.NewLogger(t)
	router := interactions.NewRouter(log)
	loader := NewLoader(log, router, Deps{StartedAt: time.Now()})

	require.NoError(t, loader.Load("infoCommands"))
	assert.Equal(t, []string{"infoCommands"}, loader.Loaded())
	assert.Len(t, router.Commands(), 3)
}

func TestLoadUnknown(t *testing.T) {
	log := zaptest.NewLogger(t)
	loader := NewLoader(log, interactions.NewRouter(log), Deps{})

	err := loader.Load("cogs.missing")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "cogs.missing", loadErr.Name)
	assert.ErrorIs(t, err, ErrUnknownExtension)
}

func TestLoadFailuresAreContained(t *testing.T) {
	log := zaptest.NewLogger(t)
	router := interactions.NewRouter(log)
	loader := NewLoader(log, router, Deps{},
		Extension{Name: "ok", New: fixed("ping")},
		Extension{Name: "broken", New: func(Deps) ([]*interactions.Interaction, error) {
			return nil, errors.New("boom")
		}},
		Extension{Name: "panics", New: func(Deps) ([]*interactions.Interaction, error) {
			panic("nil map")
		}},
		Extension{Name: "clash", New: fixed("ping")},
		Extension{Name: "later", New: fixed("info")},
	)

	n := loader.LoadAll([]string{"ok", "broken", "panics", "clash", "missing", "later"})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ok", "later"}, loader.Loaded())
	assert.Len(t, router.Commands(), 2)

	assert.ErrorIs(t, loader.Load("clash"), interactions.ErrDuplicateCommand)
	assert.ErrorContains(t, loader.Load("panics"), "panic: nil map")
}
