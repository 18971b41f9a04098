//go:build protogen

package refdata

import (
	"context"
	"time"

	"github.com/jmendozar/citadesk/libs/grpcx"
	registryv1 "github.com/jmendozar/citadesk/protos/gen/registry/v1"
)

// ClientRecord is the citizen registry view of a client.
type ClientRecord struct {
	ClientID     string
	GoodStanding bool
	PendingQuota int
}

// Provider looks up citizen records in the registry service. A nil Provider
// means registry checks are disabled and local client data is authoritative.
type Provider interface {
	LookupClient(ctx context.Context, clientID string) (ClientRecord, error)
}

type grpcProvider struct {
	client registryv1.RegistryServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: registryv1.NewRegistryServiceClient(conn)}, nil
}

func (p *grpcProvider) LookupClient(ctx context.Context, clientID string) (ClientRecord, error) {
	resp, err := p.client.LookupClient(ctx, &registryv1.LookupClientRequest{ClientId: clientID})
	if err != nil {
		return ClientRecord{}, err
	}
	return ClientRecord{
		ClientID:     resp.GetClientId(),
		GoodStanding: resp.GetGoodStanding(),
		PendingQuota: int(resp.GetPendingQuota()),
	}, nil
}
