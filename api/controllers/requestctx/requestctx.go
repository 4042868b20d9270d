package requestctx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// Principal returns the authenticated caller or an unauthorized error.
func Principal(r *http.Request) (auth.Principal, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return principal, nil
}

// Vendor resolves the caller's vendor id and enforces vendor access.
func Vendor(r *http.Request) (auth.Principal, uuid.UUID, error) {
	principal, err := Principal(r)
	if err != nil {
		return principal, uuid.Nil, err
	}
	if principal.Role != enums.ActorRoleVendor || principal.VendorID == nil {
		return principal, uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor access required")
	}
	return principal, *principal.VendorID, nil
}

// PathUUID parses a required uuid route parameter.
func PathUUID(r *http.Request, name, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return id, nil
}

// Page reads the limit and cursor query parameters.
func Page(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
