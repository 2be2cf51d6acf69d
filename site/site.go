// Package site manages the sites.json registry of servers the test bench
// works against.
package site

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ProcessMaker/testbench/consts"
)

// DefaultSitesFile is read when no other path is configured.
const DefaultSitesFile = "sites.json"

// Site is one entry of sites.json.
type Site struct {
	Name             string `json:"name"`
	URL              string `json:"url"`
	BearerToken      string `json:"bearerToken"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	ScriptExecutorID int    `json:"scriptExecutorId"`
	MailConfig       string `json:"mailConfig"`
	NgrokContainer   string `json:"ngrokContainer,omitempty"`
	UseTunnel        bool   `json:"useTunnel,omitempty"`
}

// Load reads and validates the sites file at path. Every entry must carry
// name, url and bearerToken as strings.
func Load(path string) ([]Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load sites: %w", err)
	}
	sites, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load sites from %s: %w", path, err)
	}
	return sites, nil
}

// Parse decodes sites.json content.
func Parse(data []byte) ([]Site, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrMalformedSites, err)
	}
	for i, entry := range raw {
		for _, field := range []string{"name", "url", "bearerToken"} {
			if !isJSONString(entry[field]) {
				return nil, fmt.Errorf("%w: site %d: each site must have name (string), url (string), and bearerToken (string)", consts.ErrMalformedSites, i)
			}
		}
	}

	var sites []Site
	if err := json.Unmarshal(data, &sites); err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrMalformedSites, err)
	}
	return sites, nil
}

func isJSONString(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) >= 2 && v[0] == '"'
}

// Find returns the site named name.
func Find(sites []Site, name string) (Site, error) {
	for _, s := range sites {
		if s.Name == name {
			return s, nil
		}
	}
	return Site{}, fmt.Errorf("%w: %s", consts.ErrSiteNotFound, name)
}

// Save writes sites to path as indented JSON.
func Save(path string, sites []Site) error {
	if sites == nil {
		sites = []Site{}
	}
	data, err := json.MarshalIndent(sites, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sites: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write sites file %s: %w", path, err)
	}
	return nil
}
