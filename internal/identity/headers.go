package identity

import (
	"context"
	"net/http"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderUserID        = "User-ID"
	HeaderUserType      = "User-Type"
	HeaderSessionID     = "Session-ID"

	contentTypeJSON = "application/json"
)

// Headers is the identity header set attached to a backend request.
type Headers map[string]string

// Apply copies the headers onto req.
func (h Headers) Apply(req *http.Request) {
	for k, v := range h {
		req.Header.Set(k, v)
	}
}

// BuildHeaders fetches a fresh token for authenticated principals. A token
// failure is returned as an identity error and no headers are produced.
func BuildHeaders(ctx context.Context, p Principal) (Headers, error) {
	switch p.Kind {
	case Authenticated:
		token, err := p.Token(ctx)
		if err != nil {
			return nil, schemas.NewJobError(schemas.ErrIdentity, "build headers", err)
		}
		return Headers{
			HeaderAuthorization: "Bearer " + token,
			HeaderContentType:   contentTypeJSON,
			HeaderUserID:        p.UserID,
			HeaderUserType:      Authenticated.String(),
		}, nil
	default:
		return Headers{
			HeaderContentType: contentTypeJSON,
			HeaderSessionID:   p.SessionID,
			HeaderUserType:    Anonymous.String(),
		}, nil
	}
}
