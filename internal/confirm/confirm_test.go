package confirm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy(t *testing.T) {
	ok, err := Approve.RequestConfirmation(context.Background(), Details{Kind: KindTransaction})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Deny.RequestConfirmation(context.Background(), Details{Kind: KindTransaction})
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err = Approve.RequestConfirmation(ctx, Details{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("approve")
	require.NoError(t, err)
	assert.Equal(t, Approve, p)

	p, err = ParsePolicy("deny")
	require.NoError(t, err)
	assert.Equal(t, Deny, p)

	_, err = ParsePolicy("maybe")
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	answers := []bool{true, false}
	r := NewRecorder(Func(func(ctx context.Context, d Details) (bool, error) {
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}))

	ok, _ := r.RequestConfirmation(context.Background(), Details{Kind: KindSendToken, Domain: "a.com"})
	assert.True(t, ok)
	ok, _ = r.RequestConfirmation(context.Background(), Details{Kind: KindAddMiniApp, Domain: "a.com"})
	assert.False(t, ok)

	prompts := r.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, KindSendToken, prompts[0].Kind)
	assert.Equal(t, KindAddMiniApp, prompts[1].Kind)
}
