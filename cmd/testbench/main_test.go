package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProcessMaker/testbench/config"
	"github.com/ProcessMaker/testbench/consts"
)

func TestSiteName(t *testing.T) {
	t.Setenv("SITE_NAME", "from-env")
	assert.Equal(t, "from-flag", siteName(" from-flag "))
	assert.Equal(t, "from-env", siteName(""))

	t.Setenv("SITE_NAME", "")
	assert.Equal(t, "", siteName(""))
}

func TestIsFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("site", "", "")
	fs.Int("attempts", 0, "")
	require.NoError(t, fs.Parse([]string{"--site", "local"}))

	assert.True(t, isFlagSet(fs, "site"))
	assert.False(t, isFlagSet(fs, "attempts"))
}

func TestLoadSite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"local","url":"http://localhost","bearerToken":"t","scriptExecutorId":1,"mailConfig":"local.json"}]`), 0o644))

	cfg := config.NewDefaultConfig()
	cfg.Paths.SitesFile = path
	t.Setenv("SITE_NAME", "")

	s, err := loadSite(cfg, "local")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost", s.URL)

	_, err = loadSite(cfg, "other")
	assert.ErrorIs(t, err, consts.ErrSiteNotFound)

	_, err = loadSite(cfg, "")
	assert.Error(t, err)
}

func TestActionList(t *testing.T) {
	list := actionList()
	assert.Contains(t, list, "configure-email")
	assert.Contains(t, list, "Reply To Mail")
}
