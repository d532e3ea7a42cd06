package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/meridian-io/relay/internal/client"
	"github.com/meridian-io/relay/pkg/relay"
	"github.com/meridian-io/relay/pkg/relayclient"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// buildClient constructs a client from the active viper configuration.
func buildClient() (*client.Client, error) {
	api := viper.GetString("api")
	if api == "" {
		return nil, relay.ErrBaseURLRequired
	}

	config := &relay.Config{
		BaseURL:     api,
		Token:       viper.GetString("token"),
		Timeout:     viper.GetDuration("timeout"),
		MaxAttempts: viper.GetInt("max_attempts"),
		DefaultTTL:  viper.GetDuration("cache_ttl"),
		Debug:       viper.GetBool("verbose"),
	}

	cli, err := relayclient.New(config)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	cli.Session().OnExpired(func() {
		fmt.Fprintln(os.Stderr, "Session expired; run 'relay login' to authenticate again.")
	})

	return cli, nil
}

// renderBody prints a raw JSON body in the requested output format.
func renderBody(body []byte, output string) error {
	switch output {
	case "json":
		var pretty any
		if err := json.Unmarshal(body, &pretty); err != nil {
			// Not JSON; print as-is
			fmt.Println(string(body))

			return nil
		}

		encoded, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}

		fmt.Println(string(encoded))

	case "yaml":
		var value any
		if err := json.Unmarshal(body, &value); err != nil {
			fmt.Println(string(body))

			return nil
		}

		encoded, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}

		fmt.Print(string(encoded))

	default:
		return renderTable(body)
	}

	return nil
}

// renderTable renders a JSON array of objects as a table, deriving columns
// from the sorted union of scalar keys. Non-tabular bodies fall back to JSON.
func renderTable(body []byte) error {
	var rows []map[string]any

	err := json.Unmarshal(body, &rows)
	if err != nil {
		var envelope struct {
			Resources []map[string]any `json:"resources"`
			Items     []map[string]any `json:"items"`
		}

		if json.Unmarshal(body, &envelope) == nil {
			rows = envelope.Resources
			if rows == nil {
				rows = envelope.Items
			}
		}
	}

	if rows == nil {
		return renderBody(body, "json")
	}

	columns := tableColumns(rows)
	if len(columns) == 0 {
		fmt.Println("No results")

		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header(toAnySlice(columns)...)

	for _, row := range rows {
		cells := make([]any, len(columns))
		for i, column := range columns {
			cells[i] = formatCell(row[column])
		}

		_ = table.Append(cells...)
	}

	_ = table.Render()

	return nil
}

func tableColumns(rows []map[string]any) []string {
	seen := map[string]struct{}{}

	var columns []string

	for _, row := range rows {
		for key, value := range row {
			switch value.(type) {
			case map[string]any, []any:
				continue
			}

			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}

				columns = append(columns, key)
			}
		}
	}

	sort.Strings(columns)

	return columns
}

func formatCell(value any) string {
	if value == nil {
		return ""
	}

	return fmt.Sprintf("%v", value)
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}

	return out
}

// persistedConfig is the on-disk CLI configuration.
type persistedConfig struct {
	API      string        `yaml:"api,omitempty"`
	Token    string        `yaml:"token,omitempty"`
	Output   string        `yaml:"output,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
}

func configFilePath() (string, error) {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		return cfgFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}

	return filepath.Join(home, ".relay", "config.yml"), nil
}

func loadPersistedConfig() (*persistedConfig, error) {
	path, err := configFilePath()
	if err != nil {
		return nil, err
	}

	config := &persistedConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}

		return nil, fmt.Errorf("reading config file: %w", err)
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

func savePersistedConfig(config *persistedConfig) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(path), configDirPerm)
	if err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	err = os.WriteFile(path, data, configFilePerm)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
