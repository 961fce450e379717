// Package dbconfig provides database configuration types used by both the
// config and source/target packages. This package exists to break the
// circular import between config and the connection layers.
package dbconfig

// SourceDatabase describes one logical MySQL source database.
// Connection parameters may be inlined for local development; in normal
// operation they come from the credential provider keyed by Name.
type SourceDatabase struct {
	Name        string `yaml:"name"`
	TablePrefix string `yaml:"table_prefix"` // prefix for target table names, e.g. "plex_"

	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// HasInlineCredentials reports whether the entry carries its own connection
// parameters instead of deferring to the credential provider.
func (d *SourceDatabase) HasInlineCredentials() bool {
	return d.Host != "" && d.Database != ""
}

// TargetConfig holds BigQuery target settings.
type TargetConfig struct {
	Project  string `yaml:"project"`
	Dataset  string `yaml:"dataset"`
	Location string `yaml:"location,omitempty"` // dataset location for creation, e.g. "EU"
}
