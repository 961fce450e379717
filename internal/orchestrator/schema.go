package orchestrator

import (
	"context"
	"fmt"

	"github.com/johndauphine/mysql-bq-replicate/internal/source"
)

// ShowSchema introspects every selected table and prints the resolved
// target schema. Useful for reviewing type mappings before a first run.
func (o *Orchestrator) ShowSchema(ctx context.Context, cliTables []string) error {
	for i := range o.cfg.Databases {
		db := &o.cfg.Databases[i]

		resolved, err := resolveCredentials(db)
		if err != nil {
			return fmt.Errorf("database %s: %w", db.Name, err)
		}
		conn, err := source.Connect(resolved, o.cfg.Replication.MaxSourceConnections)
		if err != nil {
			return fmt.Errorf("database %s: %w", db.Name, err)
		}

		err = o.showDatabaseSchema(ctx, conn, db.Name, db.TablePrefix, o.selectTables(db.Name, cliTables))
		conn.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) showDatabaseSchema(ctx context.Context, conn *source.Conn, database, prefix string, tables []string) error {
	for _, table := range tables {
		ts, err := conn.Introspect(ctx, table)
		if err != nil {
			return fmt.Errorf("introspecting %s.%s: %w", database, table, err)
		}

		strat := o.registry.Lookup(database, table)
		fmt.Printf("\n%s.%s -> %s (%s)\n", database, table, prefix+table, strat.Kind)
		if len(ts.PrimaryKey) > 0 {
			fmt.Printf("  primary key: %v\n", ts.PrimaryKey)
		}
		for _, col := range ts.Columns {
			nullable := ""
			if col.Nullable {
				nullable = " NULL"
			}
			fmt.Printf("  %-30s %-20s %s%s\n", col.Name, col.SourceType, col.Type, nullable)
		}
	}
	return nil
}
