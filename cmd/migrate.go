package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/holdfast-db/holdfast/cmd/util"
	"github.com/holdfast-db/holdfast/pkg/storage/sqlite"
)

const (
	versionFlag          = "version"
	timeoutFlag          = "timeout"
	verboseMigrationFlag = "verbose"
)

// NewMigrateCommand returns the command that runs datastore schema
// migrations.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database schema migrations needed for the Holdfast datastore",
		Long:  `The migrate command is used to migrate the database schema needed for Holdfast.`,
		RunE:  runMigration,
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(datastoreURIFlag, flags.Lookup(datastoreURIFlag))
			util.MustBindPFlag(versionFlag, flags.Lookup(versionFlag))
			util.MustBindPFlag(timeoutFlag, flags.Lookup(timeoutFlag))
			util.MustBindPFlag(verboseMigrationFlag, flags.Lookup(verboseMigrationFlag))
		},
	}

	flags := cmd.Flags()

	flags.String(datastoreURIFlag, "", "(required) the connection uri of the sqlite database to run the migrations against (e.g. 'file:holdfast.db')")
	flags.Uint(versionFlag, 0, "the version to migrate to (if omitted the latest schema will be used)")
	flags.Duration(timeoutFlag, 1*time.Minute, "a timeout after which the migration process will terminate")
	flags.Bool(verboseMigrationFlag, false, "enable verbose migration logs (default false)")

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runMigration(_ *cobra.Command, _ []string) error {
	uri := viper.GetString(datastoreURIFlag)
	targetVersion := viper.GetUint(versionFlag)
	timeout := viper.GetDuration(timeoutFlag)
	verbose := viper.GetBool(verboseMigrationFlag)

	if uri == "" {
		return fmt.Errorf("missing datastore uri")
	}

	goose.SetVerbose(verbose)

	dsn, err := sqlite.PrepareDSN(uri)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open a connection to the datastore: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to the datastore: %w", err)
	}

	if targetVersion != 0 {
		currentVersion, err := sqlite.SchemaVersion(ctx, db)
		if err != nil {
			return err
		}

		if int64(targetVersion) < currentVersion {
			log.Printf("migrating down to schema version %d", targetVersion)
			return sqlite.MigrateDown(ctx, db, int64(targetVersion))
		}
	}

	log.Println("migrating to the latest schema version")
	return sqlite.RunMigrations(ctx, db)
}
