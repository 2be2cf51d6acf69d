package site

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProcessMaker/testbench/consts"
)

const sitesJSON = `[
  {"name": "local", "url": "http://localhost:8080", "bearerToken": "tok", "scriptExecutorId": 2, "mailConfig": "local.json", "useTunnel": true},
  {"name": "staging", "url": "https://staging.example.com", "bearerToken": "", "username": "admin", "scriptExecutorId": 1, "mailConfig": "gmail.json", "ngrokContainer": "http://ngrok:4040"}
]`

func TestLoadAndFind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(sitesJSON), 0o644))

	sites, err := Load(path)
	require.NoError(t, err)
	require.Len(t, sites, 2)

	local, err := Find(sites, "local")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", local.URL)
	assert.Equal(t, 2, local.ScriptExecutorID)
	assert.True(t, local.UseTunnel)

	staging, err := Find(sites, "staging")
	require.NoError(t, err)
	assert.Equal(t, "admin", staging.Username)
	assert.Equal(t, "http://ngrok:4040", staging.NgrokContainer)

	_, err = Find(sites, "prod")
	assert.ErrorIs(t, err, consts.ErrSiteNotFound)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"object instead of array", `{"name": "a"}`},
		{"missing bearer token", `[{"name": "a", "url": "http://a"}]`},
		{"numeric name", `[{"name": 1, "url": "http://a", "bearerToken": ""}]`},
		{"null url", `[{"name": "a", "url": null, "bearerToken": ""}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, consts.ErrMalformedSites)
		})
	}
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	sites, err := GenerateCI("42", false)
	require.NoError(t, err)
	require.NoError(t, Save(path, sites))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  {\n    \"name\": \"CI1\",")
	assert.Contains(t, string(data), `"bearerToken": ""`)
	assert.NotContains(t, string(data), "useTunnel")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, sites, loaded)
}

func TestGenerateCI(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		sites, err := GenerateCI("abc", false)
		require.NoError(t, err)
		require.Len(t, sites, 1)
		assert.Equal(t, Site{
			Name:             "CI1",
			URL:              "https://ci-abc.engk8s.processmaker.net",
			ScriptExecutorID: 1,
			MailConfig:       "dms.json",
			NgrokContainer:   "http://ngrok:4040",
		}, sites[0])
	})

	t.Run("multitenancy", func(t *testing.T) {
		sites, err := GenerateCI("abc", true)
		require.NoError(t, err)
		require.Len(t, sites, 3)
		for i, s := range sites {
			assert.Equal(t, []string{"CI1", "CI2", "CI3"}[i], s.Name)
			assert.Equal(t, "dms.json", s.MailConfig)
		}
		assert.Equal(t, "https://tenant-2.ci-abc.engk8s.processmaker.net", sites[1].URL)
	})

	t.Run("missing instance", func(t *testing.T) {
		_, err := GenerateCI("", true)
		assert.Error(t, err)
	})
}
