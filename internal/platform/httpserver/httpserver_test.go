package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	h := http.NewServeMux()

	srv := New(":0", h)
	assert.Equal(t, ":0", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)

	srv = New(":0", h, WithWriteTimeout(time.Minute), WithIdleTimeout(time.Second), WithReadTimeout(2*time.Second))
	assert.Equal(t, time.Minute, srv.WriteTimeout)
	assert.Equal(t, time.Second, srv.IdleTimeout)
	assert.Equal(t, 2*time.Second, srv.ReadTimeout)
}
