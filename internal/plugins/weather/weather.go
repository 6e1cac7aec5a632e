// Package weather controls the game world's weather: operators set it,
// anyone reads it, and changes are pushed to the game server console
// and broadcast to connected players.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/dispatch"
	"github.com/cory-johannsen/gamekeeper/internal/module"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

// State is the persisted weather state.
type State struct {
	// Type is the weather kind, e.g. "rain" or "clear".
	Type string `json:"type"`
	// Duration is how long the weather holds, in seconds.
	Duration int64 `json:"duration"`
	// SetBy is the name of the operator who set it.
	SetBy string `json:"set_by"`
	// SetAt is when it was set.
	SetAt time.Time `json:"set_at"`
}

func stateKey() store.Key {
	return store.ModuleKey("weather", "state")
}

// Descriptor returns the weather module's registration.
func Descriptor() *module.Descriptor {
	return module.NewDescriptor("weather", "1.0.0").
		Command([]string{"weather", "set"}, auth.RoleOperator,
			[]module.ArgSpec{
				module.Arg("type", module.ArgString),
				module.Arg("duration", module.ArgInt),
			},
			setWeather, "set the world weather for a duration in seconds").
		Command([]string{"weather", "get"}, auth.RoleGuest, nil,
			getWeather, "show the current weather").
		Socket("weather.state", auth.RolePlayer, weatherSocket).
		Event("player.connected", greetWithWeather)
}

func setWeather(ctx context.Context, call *module.Call) (any, error) {
	typ, _ := call.String("type")
	duration, _ := call.Int("duration")
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", dispatch.ErrValidation)
	}

	state := State{
		Type:     typ,
		Duration: duration,
		SetBy:    call.Principal.Name,
		SetAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	if err := call.Store.Set(ctx, stateKey(), data); err != nil {
		return nil, fmt.Errorf("persisting weather: %w", err)
	}

	if call.Console != nil {
		if _, err := call.Console.ExecuteCommand(ctx, fmt.Sprintf("weather %s %d", typ, duration)); err != nil {
			call.Logger.Warn("console weather command failed", zap.Error(err))
		}
	}
	if call.Messenger != nil {
		call.Messenger.BroadcastPlayers(map[string]any{
			"event":    "weather.changed",
			"type":     typ,
			"duration": duration,
		})
	}

	call.Logger.Info("weather changed",
		zap.String("type", typ),
		zap.Int64("duration", duration))
	return state, nil
}

func getWeather(ctx context.Context, call *module.Call) (any, error) {
	return loadState(ctx, call.Store)
}

func weatherSocket(ctx context.Context, call *module.Call) (any, error) {
	return loadState(ctx, call.Store)
}

// greetWithWeather pushes the current weather to a freshly connected
// player. No state means nothing to say.
func greetWithWeather(ctx context.Context, call *module.Call) error {
	state, err := loadState(ctx, call.Store)
	if err != nil {
		if errors.Is(err, module.ErrNotFound) {
			return nil
		}
		return err
	}
	id, _ := call.Payload["id"].(string)
	if id == "" || call.Messenger == nil {
		return nil
	}
	call.Messenger.SendToPlayer(id, map[string]any{
		"event":    "weather.current",
		"type":     state.Type,
		"duration": state.Duration,
	})
	return nil
}

func loadState(ctx context.Context, st store.Store) (State, error) {
	val, err := st.Get(ctx, stateKey())
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return State{}, fmt.Errorf("no weather set: %w", module.ErrNotFound)
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(val.Data, &state); err != nil {
		return State{}, fmt.Errorf("decoding weather state: %w", err)
	}
	return state, nil
}
