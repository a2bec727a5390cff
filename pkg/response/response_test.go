package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"acctshop-api/pkg/apierror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]int{"n": 1})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"data":{"n":1}}`, rec.Body.String())
}

func TestJSONWithMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONWithMeta(rec, http.StatusOK, []string{"a"}, 10, 20, 21)
	assert.JSONEq(t, `{"success":true,"data":["a"],"meta":{"limit":10,"offset":20,"total":21}}`, rec.Body.String())
}

func TestErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestErrorUnwrapsAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, apierror.BadRequest("kind is required"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "kind is required", body["error"].(map[string]any)["message"])
}
