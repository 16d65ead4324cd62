package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/stretchr/testify/require"
)

type visibilityRequest struct {
	Visibility string `json:"visibility" validate:"required,oneof=private public verified_only"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"visibility":"public"}`))
	var body visibilityRequest
	require.NoError(t, DecodeJSONBody(req, &body))
	require.Equal(t, "public", body.Visibility)

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"visibility":"everyone"}`))
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details := pkgerrors.As(err).Details().(map[string]string)
	require.Equal(t, "must be one of private public verified_only", details["visibility"])

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"visibility":"public","extra":1}`))
	require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"bearer":       {"Bearer abc.def", "abc.def", true},
		"lowercase":    {"bearer   abc", "abc", true},
		"missing":      {"", "", false},
		"wrong scheme": {"Basic abc", "", false},
		"scheme only":  {"Bearer ", "", false},
		"no separator": {"abc.def", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := BearerToken(tc.header)
			if !tc.ok {
				require.ErrorIs(t, err, ErrMissingToken)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestQueryParsers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&min_price=100.5&lat=abc", nil)

	limit, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 10, limit)

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=500", nil), "limit", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	price, err := ParseQueryDecimal(req, "min_price")
	require.NoError(t, err)
	require.Equal(t, "100.5", price.String())

	missing, err := ParseQueryDecimal(req, "max_price")
	require.NoError(t, err)
	require.Nil(t, missing)

	_, err = ParseQueryFloat(req, "lat")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	rctx.URLParams.Add("bad", "not-a-uuid")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	got, err := ParseUUIDParam(req, "id")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "bad")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
