package grantsrv

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

// handleClientCredentials authenticates a machine client. No user is
// involved; the subject of the issued token is the client itself.
func (s *Service) handleClientCredentials(ctx context.Context, tenantID kernel.TenantID, req grant.TokenRequest) (*grant.Result, error) {
	cl, err := s.loadClient(ctx, tenantID, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !cl.SecretMatches(req.ClientSecret) {
		return nil, idp.ErrInvalidClientCredentials()
	}

	o, err := s.resolveOrganization(ctx, tenantID, req.Organization, nil)
	if err != nil {
		return nil, err
	}

	return &grant.Result{
		Client: cl,
		AuthParams: kernel.AuthParams{
			ClientID: cl.ID,
			Scope:    req.Scope,
			Audience: req.Audience,
		},
		Organization: o,
	}, nil
}
