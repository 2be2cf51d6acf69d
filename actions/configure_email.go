package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ProcessMaker/testbench/apiclient"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/settings"
)

const (
	settingsListPath   = "/api/1.0/settings?per_page=1000"
	settingsUpdatePath = "/api/1.0/settings/%d"
)

type serverSetting struct {
	ID     int64           `json:"id"`
	Key    string          `json:"key"`
	Config json.RawMessage `json:"config"`
}

type settingsPage struct {
	Data []serverSetting `json:"data"`
}

type settingUpdate struct {
	ID     int64  `json:"id"`
	Key    string `json:"key"`
	Config string `json:"config"`
}

// ConfigureResult lists what ConfigureEmail did per setting key.
type ConfigureResult struct {
	Updated   []string
	Unchanged []string
	Missing   []string
}

// ConfigureEmail pushes the site's mail settings to the server. Each key is
// looked up among the server settings; keys the server does not know are
// reported and skipped, and only values that differ are updated.
func ConfigureEmail(ctx context.Context, opts Options) (ConfigureResult, error) {
	var result ConfigureResult

	desired, err := loadSettings(ctx, opts)
	if err != nil {
		return result, err
	}

	timeout, err := opts.Config.API.GetTimeout()
	if err != nil {
		return result, err
	}
	client := apiclient.New(opts.Site, timeout)

	logger.Info("Configuring email settings", "site", opts.Site.Name, "keys", len(desired))

	var page settingsPage
	if err := client.Get(ctx, settingsListPath, &page); err != nil {
		return result, fmt.Errorf("email configuration failed: %w", err)
	}
	byKey := make(map[string]serverSetting, len(page.Data))
	for _, s := range page.Data {
		byKey[s.Key] = s
	}

	for _, key := range desired.Keys() {
		value := desired[key]
		current, ok := byKey[key]
		if !ok {
			logger.Warn("Setting not found on server", "key", key)
			result.Missing = append(result.Missing, key)
			continue
		}

		currentValue := settings.StringValue(current.Config)
		if currentValue == value {
			logger.Info("Setting is already correct", "key", key)
			result.Unchanged = append(result.Unchanged, key)
			continue
		}

		logger.Info("Updating setting", "key", key, "id", current.ID)
		logger.Debug("Setting values", "key", key, "from", currentValue, "to", value)
		update := settingUpdate{ID: current.ID, Key: key, Config: value}
		if err := client.Put(ctx, fmt.Sprintf(settingsUpdatePath, current.ID), update, nil); err != nil {
			return result, fmt.Errorf("email configuration failed: %w", err)
		}
		result.Updated = append(result.Updated, key)
	}

	logger.Info("Email configuration completed",
		"updated", len(result.Updated), "unchanged", len(result.Unchanged), "missing", len(result.Missing))
	return result, nil
}

func runConfigureEmail(ctx context.Context, opts Options) error {
	_, err := ConfigureEmail(ctx, opts)
	return err
}
