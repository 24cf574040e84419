package spending

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/privatestorage/zkapauthorizer/pkg/signing"
)

func sequentialTokenSource(t *testing.T) (TokenSource, *int) {
	t.Helper()
	next := 0
	return func(n int) ([][]byte, error) {
		tokens := make([][]byte, n)
		for i := range tokens {
			tokens[i] = []byte(fmt.Sprintf("token-%d", next))
			next++
		}
		return tokens, nil
	}, &next
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	secret, err := signing.GenerateSecret()
	require.NoError(t, err)
	oracle := signing.NewHMACOracle(secret)
	source, _ := sequentialTokenSource(t)
	return NewController(source, oracle, nil)
}

func TestGetMintsRequestedCount(t *testing.T) {
	c := newTestController(t)
	group, err := c.Get([]byte("message"), 5)
	require.NoError(t, err)
	require.Len(t, group.Passes(), 5)
}

func TestMarkSpentThenResetFails(t *testing.T) {
	c := newTestController(t)
	group, err := c.Get([]byte("message"), 2)
	require.NoError(t, err)
	require.NoError(t, group.MarkSpent())

	err = group.Reset()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestResetReturnsTokensForReuse(t *testing.T) {
	c := newTestController(t)
	group, err := c.Get([]byte("message-a"), 3)
	require.NoError(t, err)
	require.NoError(t, group.Reset())

	require.Len(t, c.returned, 3)

	// A subsequent Get for a different message reuses the returned
	// tokens (minted fresh against the new message) before extracting
	// new ones.
	group2, err := c.Get([]byte("message-b"), 3)
	require.NoError(t, err)
	require.Empty(t, c.returned)
	require.Len(t, group2.Passes(), 3)
}

func TestPartialRejectionRetryScenario(t *testing.T) {
	// Scenario 2 from the spec: 5 passes submitted, indices {1, 3} fail
	// signature checks. The client splits, marks those invalid, expands
	// by 2, and the combined group ends up with 5 spent + 2 invalid.
	c := newTestController(t)
	group, err := c.Get([]byte("message"), 5)
	require.NoError(t, err)

	rejected, okay := group.Split([]int{1, 3})
	require.Len(t, rejected.Passes(), 2)
	require.Len(t, okay.Passes(), 3)

	require.NoError(t, rejected.MarkInvalid("signature check failed"))

	expanded, err := okay.Expand(2)
	require.NoError(t, err)
	require.Len(t, expanded.Passes(), 5)

	require.NoError(t, expanded.MarkSpent())

	require.Len(t, c.spent, 5)
	require.Len(t, c.invalid, 2)
	require.Empty(t, c.inUse)
}

func TestMarkInvalidRejectsPassesNotInUse(t *testing.T) {
	c := newTestController(t)
	group, err := c.Get([]byte("message"), 1)
	require.NoError(t, err)
	require.NoError(t, group.MarkSpent())

	err = group.MarkInvalid("too late")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestGetFailsWhenPoolExhausted(t *testing.T) {
	secret, err := signing.GenerateSecret()
	require.NoError(t, err)
	oracle := signing.NewHMACOracle(secret)

	source := func(n int) ([][]byte, error) {
		// Only ever have 1 token available, regardless of how many were
		// requested.
		if n == 0 {
			return nil, nil
		}
		return [][]byte{[]byte("only-token")}, nil
	}
	c := NewController(source, oracle, nil)

	_, err = c.Get([]byte("message"), 3)
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPassNeverInMoreThanOneSet(t *testing.T) {
	c := newTestController(t)
	group, err := c.Get([]byte("message"), 4)
	require.NoError(t, err)

	for _, p := range group.Passes() {
		_, inUse := c.inUse[p]
		_, spent := c.spent[p]
		_, invalid := c.invalid[p]
		require.True(t, inUse)
		require.False(t, spent)
		require.False(t, invalid)
	}
}
