package model

import "strings"

// ConfigFile is the state of one allowlisted text configuration file.
type ConfigFile struct {
	Path       string `json:"path"`
	ModifiedAt int64  `json:"modified_at"` // ms since epoch
	Hash       string `json:"hash"`        // sha256 hex of raw bytes
	Content    string `json:"content"`     // required UTF-8 text
}

// Key returns the manifest key for a config file: "config::" + lowercased path.
func (c ConfigFile) Key() string {
	return "config::" + strings.ToLower(c.Path)
}
