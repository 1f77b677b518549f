// Package token implements the engine's type-erased token container: the
// only place in ntpnet where the static/dynamic type boundary lives.
package token

import (
	"reflect"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// ErrTypeMismatch is returned by Take when the requested type does not
// match the token's TypeTag.
var ErrTypeMismatch = xerrors.New("token: requested type does not match stored TypeTag")

// TypeTag is a process-unique, stable identifier for a token payload's
// runtime type. Two tokens carry the same TypeTag iff reflect.TypeOf
// their payloads compare equal.
type TypeTag = reflect.Type

// TagOf returns the TypeTag that New would assign to a payload of type T.
func TagOf[T any]() TypeTag {
	var zero T
	return reflect.TypeOf(zero)
}

// Token is an opaque, type-tagged, owned value carrying one unit of data
// between a transition and a place. Ownership is exclusive: moving a
// Token (passing it by value) transfers ownership, and the engine never
// copies a token's payload — payload is held behind an interface, so
// copying a Token copies only the interface header.
type Token struct {
	id      uuid.UUID
	tag     TypeTag
	typeStr string
	payload any
}

// New wraps payload in a Token, deriving its TypeTag from T's static type.
func New[T any](payload T) Token {
	tag := TagOf[T]()
	return Token{
		id:      uuid.New(),
		tag:     tag,
		typeStr: tag.String(),
		payload: payload,
	}
}

// ID returns this token's diagnostic correlation id.
func (t Token) ID() uuid.UUID { return t.id }

// Tag returns the token's TypeTag.
func (t Token) Tag() TypeTag { return t.tag }

// TypeName returns the payload's static type name, for diagnostics only;
// no routing decision may depend on it.
func (t Token) TypeName() string { return t.typeStr }

// Take moves the typed payload out of the token. It fails if T does not
// match the token's TypeTag.
func Take[T any](t Token) (T, error) {
	var zero T
	want := TagOf[T]()
	if t.tag != want {
		return zero, xerrors.Errorf("taking token %s as %s: %w", t.tag, want, ErrTypeMismatch)
	}
	return t.payload.(T), nil
}

// MustTake is like Take but panics on mismatch; used only where the
// caller has already established type agreement (e.g. the scheduler,
// which only ever calls with the TypeTag it popped the token under).
func MustTake[T any](t Token) T {
	v, err := Take[T](t)
	if err != nil {
		panic(err)
	}
	return v
}
