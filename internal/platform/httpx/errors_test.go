package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockroom/stockroom/internal/shared"
)

func TestRespondErrorConflictPayload(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "keyed",
			err:  &shared.ConflictError{Message: "still cloned", Field: "cloned_stocks", Blocking: []string{"A1", "A2"}},
			want: `{"content":{"cloned_stocks":["A1","A2"]},"message":"still cloned: A1, A2","status_code":409}`,
		},
		{
			name: "wrapped without identifiers",
			err:  fmt.Errorf("disable: %w", &shared.ConflictError{Message: "already disabled"}),
			want: `{"content":null,"message":"disable: already disabled","status_code":409}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, nil, tc.err)
			require.Equal(t, http.StatusConflict, rr.Code)
			require.JSONEq(t, tc.want, rr.Body.String())
		})
	}
}

func TestRespondErrorHidesUnexpectedErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, nil, fmt.Errorf("dial tcp: refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "dial tcp")
}
