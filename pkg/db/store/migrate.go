package store

import (
	"context"
	"fmt"

	"github.com/jacobrmount/Acrostic/pkg/db/models"
)

// Migrate copies every record of from into to, parents before children: each
// token is saved before the databases linked to it, and databases before the
// widget configurations that reference them. The first failure aborts the
// copy; records already written to the target are kept.
func Migrate(ctx context.Context, from, to Backend) error {
	tokens, err := from.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tokens of %s: %w", from.Name(), err)
	}

	// source row id -> target row id
	rowIDs := make(map[uint]uint)

	for i := range tokens {
		token := tokens[i]
		if err := to.SaveToken(ctx, &token); err != nil {
			return fmt.Errorf("failed to migrate token %s: %w", token.ID, err)
		}

		databases, err := from.ListDatabases(ctx, token.ID)
		if err != nil {
			return fmt.Errorf("failed to list databases of token %s: %w", token.ID, err)
		}
		for j := range databases {
			if err := migrateDatabase(ctx, to, token.ID, databases[j], rowIDs); err != nil {
				return fmt.Errorf("failed to migrate token %s: %w", token.ID, err)
			}
		}
	}

	// Databases no token links to
	all, err := from.ListDatabases(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list databases of %s: %w", from.Name(), err)
	}
	for i := range all {
		if _, done := rowIDs[all[i].RowID]; done || all[i].Identifier() == "" {
			continue
		}
		if err := migrateDatabase(ctx, to, "", all[i], rowIDs); err != nil {
			return err
		}
	}

	configs, err := from.ListWidgetConfigurations(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list widget configurations of %s: %w", from.Name(), err)
	}
	for i := range configs {
		config := configs[i]
		if config.DatabaseRowID != nil {
			if target, ok := rowIDs[*config.DatabaseRowID]; ok {
				config.DatabaseRowID = &target
			} else {
				config.DatabaseRowID = nil
			}
		}
		if err := to.SaveWidgetConfiguration(ctx, &config); err != nil {
			return fmt.Errorf("failed to migrate widget configuration %s: %w", config.ID, err)
		}
	}

	return nil
}

func migrateDatabase(ctx context.Context, to Backend, tokenID string, database models.Database, rowIDs map[uint]uint) error {
	sourceRowID := database.RowID
	if database.Identifier() == "" {
		// Unrepaired rows cannot be matched in the target
		return nil
	}

	if err := to.SaveDatabase(ctx, tokenID, &database); err != nil {
		return fmt.Errorf("failed to migrate database %s: %w", database.Identifier(), err)
	}
	rowIDs[sourceRowID] = database.RowID
	return nil
}
