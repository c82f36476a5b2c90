package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/waqf-engine/store/sqlite"
)

// migrateCommand applies the schema. sqlite.New already migrates on open, so
// this is for provisioning a database file ahead of the first serve.
func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the SQLite schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, ok := a.store.(*sqlite.Store)
			if !ok {
				return errors.New("migrate needs the sqlite store, drop --memory")
			}
			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			logrus.WithField("dsn", a.cnf.DataSource.DSN).Info("schema up to date")
			return nil
		},
	}
}
