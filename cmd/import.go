package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/pipeline"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load canonical entities into the store",
}

var importEntitiesCmd = &cobra.Command{
	Use:   "entities <file.yaml>",
	Short: "Import curated entities from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open seeds")
		}
		defer f.Close() //nolint:errcheck

		entities, err := pipeline.ReadEntitySeeds(f)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "import")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportEntities(ctx, entities)
		if err != nil {
			return eris.Wrap(err, "import entities")
		}
		zap.L().Info("import complete", zap.Int("entities", n), zap.String("file", args[0]))
		return nil
	},
}

var importMembersCmd = &cobra.Command{
	Use:   "members <file.xml>",
	Short: "Import parliamentarians from a House of Commons members export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open members export")
		}
		defer f.Close() //nolint:errcheck

		st, err := openStore(ctx, "import")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Match against what is already stored so members merge into
		// curated records instead of duplicating them.
		known, err := st.ListEntities(ctx, store.EntityFilter{})
		if err != nil {
			return eris.Wrap(err, "load entities")
		}
		overrides, err := resolve.LoadOverrides(cfg.Resolve.OverridesPath)
		if err != nil {
			return err
		}
		resolver := resolve.NewResolver(resolve.NewPool(known...), overrides, nil, cfg.Resolve.Config)

		n, err := pipeline.ImportMembers(ctx, st, resolver, f)
		if err != nil {
			return err
		}
		zap.L().Info("import complete", zap.Int("members", n), zap.String("file", args[0]))
		return nil
	},
}

func init() {
	importCmd.AddCommand(importEntitiesCmd, importMembersCmd)
	rootCmd.AddCommand(importCmd)
}
