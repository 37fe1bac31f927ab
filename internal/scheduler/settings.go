package scheduler

import (
	"encoding/json"

	"github.com/searchcore/searchcore/internal/config"
)

// NewSettingsTask builds a KindSettingsUpdate task carrying the full
// replacement Settings object for indexUID (spec §6 "Configuration
// options (per index settings)"). The scheduler applies it through the
// index driver's ApplySettings, independent of any document batch.
func NewSettingsTask(indexUID string, settings config.Settings) (Task, error) {
	payload, err := json.Marshal(settings)
	if err != nil {
		return Task{}, err
	}
	return Task{IndexUID: indexUID, Kind: KindSettingsUpdate, Details: string(payload)}, nil
}
