package version

// Version is the current version of the replicator.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.4.0"

// Name is the application name.
const Name = "mysql-bq-replicate"

// Description is a short description of the application.
const Description = "Incremental MySQL to BigQuery table replication"
