package storage

import (
	"context"

	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/refdata"
)

// RegistryClientSource overlays citizen registry data on locally stored
// clients: a client out of good standing cannot book, and a registry quota
// override takes precedence over the local row.
type RegistryClientSource struct {
	local    *ClientRepository
	registry refdata.Provider
}

func NewRegistryClientSource(local *ClientRepository, registry refdata.Provider) *RegistryClientSource {
	return &RegistryClientSource{local: local, registry: registry}
}

func (s *RegistryClientSource) Client(ctx context.Context, id string) (model.Client, bool, error) {
	c, ok, err := s.local.Client(ctx, id)
	if err != nil || !ok {
		return model.Client{}, ok, err
	}
	if s.registry == nil {
		return c, true, nil
	}

	rec, err := s.registry.LookupClient(ctx, id)
	if err != nil {
		return model.Client{}, false, err
	}
	if !rec.GoodStanding {
		c.Active = false
	}
	if rec.PendingQuota > 0 {
		c.PendingQuota = rec.PendingQuota
	}
	return c, true, nil
}
