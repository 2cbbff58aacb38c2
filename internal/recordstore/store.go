package recordstore

import (
	"context"

	"reelhub/pkg/models"
)

// Store is the narrow surface of the external record store. Every call is a
// remote round trip; nothing is cached.
type Store interface {
	ListCollections(ctx context.Context, d models.Domain) ([]models.Collection, error)
	ListRecords(ctx context.Context, d models.Domain, collectionID string) ([]models.Record, error)
	CreateRecord(ctx context.Context, d models.Domain, collectionID string, fields models.Fields) (models.Record, error)
	PatchRecord(ctx context.Context, d models.Domain, collectionID, recordID string, fields models.Fields) (models.Record, error)
	CreateCollection(ctx context.Context, d models.Domain, name string, schema Schema) (models.Collection, error)
}

func checkDomain(op string, d models.Domain) error {
	if !d.Complete() {
		return newError(ErrConfiguration, op, 0, "domain "+string(d.Name)+" is missing api key or workspace id", nil)
	}
	return nil
}
