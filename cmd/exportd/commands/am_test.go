package commands

import (
	"encoding/json"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func settings() map[string]any {
	return map[string]any{
		"warehouse": map[string]any{"driver": "pgx", "dsn": "postgres://etl:secret@dw/sales"},
		"pulse":     map[string]any{"workers": 5},
	}
}

func TestRenderSettings_HidesDSN(t *testing.T) {
	for _, format := range []string{"toml", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			out, err := renderSettings(settings(), format)
			require.NoError(t, err)
			assert.NotContains(t, string(out), "secret")
			assert.Contains(t, string(out), redacted)
			assert.Contains(t, string(out), "pgx")
		})
	}
}

func TestRenderSettings_Parses(t *testing.T) {
	var fromTOML map[string]any
	out, err := renderSettings(settings(), "toml")
	require.NoError(t, err)
	require.NoError(t, toml.Unmarshal(out, &fromTOML))
	assert.Equal(t, "pgx", fromTOML["warehouse"].(map[string]any)["driver"])

	var fromYAML map[string]any
	out, err = renderSettings(settings(), "yaml")
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(out, &fromYAML))
	assert.Equal(t, 5, fromYAML["pulse"].(map[string]any)["workers"])

	var fromJSON map[string]any
	out, err = renderSettings(settings(), "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &fromJSON))
	assert.Equal(t, redacted, fromJSON["warehouse"].(map[string]any)["dsn"])
}

func TestRenderSettings_EmptyDSNStaysEmpty(t *testing.T) {
	s := map[string]any{"warehouse": map[string]any{"dsn": ""}}
	out, err := renderSettings(s, "json")
	require.NoError(t, err)
	assert.NotContains(t, string(out), redacted)
}

func TestRenderSettings_UnknownFormat(t *testing.T) {
	_, err := renderSettings(settings(), "xml")
	assert.Error(t, err)
}

func TestParseJobID(t *testing.T) {
	id, err := parseJobID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "0", "-3", "x"} {
		_, err := parseJobID(bad)
		assert.Error(t, err, bad)
	}
}
