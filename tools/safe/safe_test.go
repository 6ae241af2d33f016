package safe

import (
	"errors"
	"sync"
	"testing"

	"PPoker/tools/errs"

	"github.com/stretchr/testify/assert"
)

func TestCallRecoversPanic(t *testing.T) {
	err := Call(func() error { panic("boom") })
	assert.True(t, errs.ErrInternal.Is(err))

	want := errors.New("plain")
	assert.Equal(t, want, Call(func() error { return want }))
	assert.NoError(t, Call(func() error { return nil }))
}

func TestSafeGoRecovers(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	SafeGo(func() {
		defer wg.Done()
		panic("in goroutine")
	})
	wg.Wait()
}

func TestMustNotNil(t *testing.T) {
	var p *int
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.Panics(t, func() { MustNotNil(nil, "nil") })
	assert.NotPanics(t, func() { MustNotNil(1, "int") })
}
