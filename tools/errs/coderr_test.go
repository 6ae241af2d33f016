package errs

import (
	"net/http"
	"testing"

	pkgerr "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrSessionNotFound.WrapMsg("find session", "sessionId", "s1")
	require.Error(t, err)

	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, RecordNotFoundError, ce.Code)
	assert.Equal(t, "find session, sessionId=s1", ce.Detail)
	assert.True(t, ErrSessionNotFound.Is(err))
	assert.False(t, ErrSessionNotAuthorized.Is(err))
	assert.Equal(t, http.StatusNotFound, ce.HTTPStatus())
}

func TestAsCodeThroughWrap(t *testing.T) {
	err := pkgerr.Wrap(ErrAlreadyConnected.Wrap(), "login")
	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, ConflictError, ce.Code)

	_, ok = AsCode(New("plain"))
	assert.False(t, ok)
}

func TestWithDetailAppends(t *testing.T) {
	e := ErrArgs.WithDetail("a")
	e = e.WithDetail("b")
	assert.Equal(t, "a, b", e.Detail)
	assert.Equal(t, "400 invalid arguments a, b", e.Error())
	assert.Empty(t, ErrArgs.Detail)
}

func TestCodeRelation(t *testing.T) {
	rel := newCodeRelation()
	require.NoError(t, rel.Add(ConflictError, 40901, 40902))
	assert.True(t, rel.Is(ConflictError, 40902))
	assert.False(t, rel.Is(40902, ConflictError))
	assert.Error(t, rel.Add(1))
}

func TestErrPanic(t *testing.T) {
	assert.NoError(t, ErrPanic(nil))
	err := ErrPanic("boom")
	assert.True(t, ErrInternal.Is(err))
	ce, _ := AsCode(err)
	assert.Equal(t, "boom", ce.Detail)
}

func TestToStringOddKV(t *testing.T) {
	assert.Equal(t, "m, k=MISSING", toString("m", []any{"k"}))
	assert.Equal(t, "m", toString("m", nil))
}
