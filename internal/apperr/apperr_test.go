package apperr

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("checkout: %w", InsufficientStock("p1", 0))
	assert.Equal(t, KindInsufficientStock, KindOf(err))
	assert.Equal(t, "insufficient_stock", CodeOf(err))
	assert.Equal(t, KindInternal, KindOf(sql.ErrNoRows))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindAuthFailed:        http.StatusUnauthorized,
		KindForbidden:         http.StatusForbidden,
		KindNotFound:          http.StatusNotFound,
		KindConflict:          http.StatusConflict,
		KindValidation:        http.StatusBadRequest,
		KindInsufficientStock: http.StatusConflict,
		KindPaymentFailed:     http.StatusConflict,
		KindUpstream:          http.StatusBadGateway,
		KindRateLimited:       http.StatusTooManyRequests,
		KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), kind)
	}
}

func TestEnvelope(t *testing.T) {
	status, body := Envelope(InsufficientStock("p1", 2))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "insufficient_stock", body["code"])
	assert.Equal(t, "p1", body["product_id"])
	assert.Equal(t, 2, body["available"])
	assert.NotEmpty(t, body["detail"])
}

func TestEnvelopeHidesInternals(t *testing.T) {
	status, body := Envelope(Internal(sql.ErrConnDone, "load order"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "An internal error occurred.", body["detail"])

	status, body = Envelope(fmt.Errorf("raw: %w", sql.ErrConnDone))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, body["detail"], "sql")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindUpstream, "x"))
}
