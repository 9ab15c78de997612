package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scripted(ok bool, err error) *Confirmer {
	return &Confirmer{
		isTerminal: func() bool { return true },
		ask:        func(string) (bool, error) { return ok, err },
	}
}

func TestConfirmAssumeYes(t *testing.T) {
	c := &Confirmer{AssumeYes: true, ask: func(string) (bool, error) {
		t.Fatal("should not prompt")
		return false, nil
	}}
	ok, err := c.Confirm(context.Background(), "restore?")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfirmNotInteractive(t *testing.T) {
	c := &Confirmer{isTerminal: func() bool { return false }}
	ok, err := c.Confirm(context.Background(), "restore?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotInteractive)
}

func TestConfirmAnswers(t *testing.T) {
	ok, err := scripted(true, nil).Confirm(context.Background(), "restore?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = scripted(false, nil).Confirm(context.Background(), "restore?")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = scripted(false, ErrAborted).Confirm(context.Background(), "restore?")
	assert.True(t, errors.Is(err, ErrAborted))
}

func TestConfirmCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scripted(true, nil).Confirm(ctx, "restore?")
	assert.ErrorIs(t, err, context.Canceled)
}
