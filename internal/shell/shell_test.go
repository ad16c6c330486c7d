package shell

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestClassifyDialError(t *testing.T) {
	var _ net.Error = fakeTimeoutErr{}

	err := classifyDialError(fakeTimeoutErr{})
	assert.True(t, errors.Is(err, ErrTransient))

	err = classifyDialError(errors.New("ssh: handshake failed: auth rejected"))
	assert.True(t, errors.Is(err, ErrFatal))
}

func TestDisposeIdempotent(t *testing.T) {
	s := New()
	assert.NoError(t, s.Dispose())
	assert.NoError(t, s.Dispose())
	assert.False(t, s.IsConnected())
}

func TestExecWithoutConnectFails(t *testing.T) {
	s := New()
	_, err := s.Exec(nil, "echo hi") //nolint:staticcheck // nil ctx ok for not-connected check
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectTimeoutConstant(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, connectTimeout)
}
