// Package spending implements the stateful spending controller: the
// component that draws unblinded tokens from a pool, mints them into
// passes bound to a particular request message, and tracks each pass
// through its lifecycle (in-use, spent, invalid, or returned) until it is
// consumed or recycled.
package spending

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/privatestorage/zkapauthorizer/pkg/pass"
	"github.com/privatestorage/zkapauthorizer/pkg/signing"
)

// ErrInvalidState is returned when a transition guard fails: the passes
// given to mark_spent, mark_invalid, or reset are not (all) in the
// factory's in-use set.
var ErrInvalidState = errors.New("spending: invalid state transition")

// ErrPoolExhausted is returned by Get when fewer unblinded tokens are
// available, between the returned queue and the underlying source
// combined, than were requested.
var ErrPoolExhausted = errors.New("spending: unblinded token pool exhausted")

// TokenSource extracts up to n unblinded tokens from durable storage,
// returning fewer than n only when the pool is short. It is satisfied by
// (*store.Store).ExtractUnblindedTokens.
type TokenSource func(n int) ([][]byte, error)

// Controller is a SpendingController: it wraps a TokenSource and a
// signing.Oracle and hands out PassGroups bound to request messages,
// tracking the lifecycle of every pass it has ever minted.
type Controller struct {
	mu sync.Mutex

	extract TokenSource
	oracle  signing.Oracle

	// tokenOf remembers the unblinded token backing each currently live
	// (in-use) pass, so that a reset can recycle the token rather than
	// the message-bound pass itself -- a pass minted for one message
	// cannot be legally replayed for another, but the unblinded token
	// underneath it can always be re-minted fresh (see DESIGN.md).
	tokenOf map[pass.Pass][]byte

	inUse   map[pass.Pass]struct{}
	spent   map[pass.Pass]struct{}
	invalid map[pass.Pass]string

	returned [][]byte // queue of tokens awaiting reuse, head = index 0; Get takes from the head and reset pushes onto it

	m *controllerMetrics
}

// NewController builds a Controller that extracts tokens via extract and
// mints them into passes via oracle. reg may be nil to skip metrics
// registration.
func NewController(extract TokenSource, oracle signing.Oracle, reg prometheus.Registerer) *Controller {
	c := &Controller{
		extract: extract,
		oracle:  oracle,
		tokenOf: make(map[pass.Pass][]byte),
		inUse:   make(map[pass.Pass]struct{}),
		spent:   make(map[pass.Pass]struct{}),
		invalid: make(map[pass.Pass]string),
		m:       newControllerMetrics(reg),
	}
	return c
}

// Get extracts n unblinded tokens (preferring previously reset ones) and
// mints them into a PassGroup bound to message. It fails with
// ErrPoolExhausted if fewer than n tokens are available in total.
func (c *Controller) Get(message []byte, n int) (*PassGroup, error) {
	if n < 0 {
		return nil, fmt.Errorf("spending: n must be >= 0, got %d", n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tokens, err := c.takeTokensLocked(n)
	if err != nil {
		return nil, err
	}

	passes, err := c.oracle.Mint(message, tokens)
	if err != nil {
		return nil, fmt.Errorf("spending: minting passes: %w", err)
	}

	for i, p := range passes {
		c.tokenOf[p] = tokens[i]
		c.inUse[p] = struct{}{}
	}
	c.m.observeIssued(len(passes), len(c.inUse), len(c.returned))

	msg := append([]byte(nil), message...)
	return &PassGroup{
		factory: &messageBoundFactory{message: msg, controller: c},
		passes:  passes,
	}, nil
}

// takeTokensLocked must be called with c.mu held.
func (c *Controller) takeTokensLocked(n int) ([][]byte, error) {
	tokens := make([][]byte, 0, n)

	take := n
	if take > len(c.returned) {
		take = len(c.returned)
	}
	tokens = append(tokens, c.returned[:take]...)
	c.returned = c.returned[take:]

	remaining := n - take
	if remaining > 0 {
		extracted, err := c.extract(remaining)
		if err != nil {
			return nil, fmt.Errorf("spending: extracting tokens: %w", err)
		}
		tokens = append(tokens, extracted...)
	}

	if len(tokens) < n {
		// Put back everything we took, both from the returned queue and
		// from the source, at the head of the returned queue; we're not
		// going to use it after all.
		c.returned = append(tokens, c.returned...)
		return nil, fmt.Errorf("%w: wanted %d, have %d", ErrPoolExhausted, n, len(tokens))
	}
	return tokens, nil
}

func (c *Controller) markSpent(passes []pass.Pass) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireInUseLocked(passes); err != nil {
		return err
	}
	for _, p := range passes {
		delete(c.inUse, p)
		delete(c.tokenOf, p)
		c.spent[p] = struct{}{}
	}
	c.m.observeSpent(len(passes), len(c.inUse))
	return nil
}

func (c *Controller) markInvalid(reason string, passes []pass.Pass) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireInUseLocked(passes); err != nil {
		return err
	}
	for _, p := range passes {
		delete(c.inUse, p)
		delete(c.tokenOf, p)
		c.invalid[p] = reason
	}
	c.m.observeInvalid(len(passes), len(c.inUse))
	return nil
}

func (c *Controller) reset(passes []pass.Pass) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireInUseLocked(passes); err != nil {
		return err
	}
	tokens := make([][]byte, 0, len(passes))
	for _, p := range passes {
		tokens = append(tokens, c.tokenOf[p])
		delete(c.inUse, p)
		delete(c.tokenOf, p)
	}
	c.returned = append(tokens, c.returned...)
	c.m.observeReturned(len(passes), len(c.inUse), len(c.returned))
	return nil
}

func (c *Controller) requireInUseLocked(passes []pass.Pass) error {
	for _, p := range passes {
		if _, ok := c.inUse[p]; !ok {
			return fmt.Errorf("%w: pass not in use", ErrInvalidState)
		}
	}
	return nil
}

// messageBoundFactory is the back-reference a PassGroup carries: it knows
// which Controller minted it and which message its passes are bound to,
// so Expand can request more passes bound to that same message.
type messageBoundFactory struct {
	message []byte
	controller *Controller
}

func (f *messageBoundFactory) get(n int) (*PassGroup, error) {
	return f.controller.Get(f.message, n)
}
