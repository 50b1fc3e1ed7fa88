package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/holdfast-db/holdfast/cmd/util"
	"github.com/holdfast-db/holdfast/pkg/storage/sqlite"
)

const (
	fieldFlag   = "field"
	ownerFlag   = "owner"
	orderedFlag = "ordered"
)

type inspectOwner string

func (o inspectOwner) ObjectID() string { return string(o) }

// NewInspectCommand returns the command that lists the persisted elements of
// one owner's collection field.
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the persisted elements of a collection field",
		Long:  `The inspect command prints the elements persisted for one owner's collection field, in stored order where the field has one.`,
		RunE:  runInspect,
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(datastoreURIFlag, flags.Lookup(datastoreURIFlag))
			util.MustBindPFlag(fieldFlag, flags.Lookup(fieldFlag))
			util.MustBindPFlag(ownerFlag, flags.Lookup(ownerFlag))
			util.MustBindPFlag(orderedFlag, flags.Lookup(orderedFlag))
		},
	}

	flags := cmd.Flags()

	flags.String(datastoreURIFlag, "", "(required) the connection uri of the sqlite database to inspect")
	flags.String(fieldFlag, "", "(required) the collection field name")
	flags.String(ownerFlag, "", "(required) the owner object id")
	flags.Bool(orderedFlag, false, "treat the field as ordered and print elements by position")

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runInspect(cmd *cobra.Command, _ []string) error {
	uri := viper.GetString(datastoreURIFlag)
	field := viper.GetString(fieldFlag)
	owner := viper.GetString(ownerFlag)
	ordered := viper.GetBool(orderedFlag)

	if uri == "" {
		return fmt.Errorf("missing datastore uri")
	}
	if field == "" {
		return fmt.Errorf("missing field name")
	}
	if owner == "" {
		return fmt.Errorf("missing owner object id")
	}

	store, err := sqlite.New[string](uri, &sqlite.Config{
		FieldName:    field,
		OrderMapping: ordered,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	elements, err := store.RawElements(ctx, inspectOwner(owner))
	if err != nil {
		return err
	}

	for _, element := range elements {
		fmt.Fprintln(cmd.OutOrStdout(), element)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d element(s)\n", len(elements))
	return nil
}
