package pubsub

import (
	"fmt"
	"reflect"

	"github.com/golobby/cast"
)

// PublisherIDKind discriminates the variant type carried by a PublisherID:
// Connection.config.publisherId is one of UInt16, UInt32, UInt64, or String.
type PublisherIDKind int

const (
	PublisherIDUInt16 PublisherIDKind = iota
	PublisherIDUInt32
	PublisherIDUInt64
	PublisherIDString
)

// PublisherID is a value-typed variant. It is pointer-free except for the
// String case, which freeze.go rejects for hard (RT fixed-size) freezes.
type PublisherID struct {
	Kind   PublisherIDKind
	UInt16 uint16
	UInt32 uint32
	UInt64 uint64
	Str    string
}

// IsFixedSize reports whether the variant's storage is a known-size,
// pointer-free primitive, as required by the RT hard-freeze validation.
func (p PublisherID) IsFixedSize() bool {
	return p.Kind != PublisherIDString
}

func (p PublisherID) String() string {
	switch p.Kind {
	case PublisherIDUInt16:
		return fmt.Sprintf("%d", p.UInt16)
	case PublisherIDUInt32:
		return fmt.Sprintf("%d", p.UInt32)
	case PublisherIDUInt64:
		return fmt.Sprintf("%d", p.UInt64)
	case PublisherIDString:
		return p.Str
	default:
		return ""
	}
}

// Equal compares two PublisherID variants for dispatch matching:
// values of differing Kind are never equal, even if their numeric value
// would coincide after widening — the wire identifiers are distinct types.
func (p PublisherID) Equal(o PublisherID) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case PublisherIDUInt16:
		return p.UInt16 == o.UInt16
	case PublisherIDUInt32:
		return p.UInt32 == o.UInt32
	case PublisherIDUInt64:
		return p.UInt64 == o.UInt64
	case PublisherIDString:
		return p.Str == o.Str
	default:
		return false
	}
}

// NewPublisherIDFromAny builds a PublisherID out of a loosely-typed value
// (e.g. one read from a TOML/YAML bootstrap file as map[string]any), using
// golobby/cast to coerce it to the requested kind rather than relying on a
// type assertion that would panic on a JSON float64 or a config string.
func NewPublisherIDFromAny(v any, kind PublisherIDKind) (PublisherID, error) {
	switch kind {
	case PublisherIDUInt16:
		out, err := cast.FromType(v, reflect.TypeOf(uint16(0)))
		if err != nil {
			return PublisherID{}, fmt.Errorf("%w: publisherId as uint16: %s", ErrInvalidArgument, err)
		}
		return PublisherID{Kind: kind, UInt16: out.(uint16)}, nil
	case PublisherIDUInt32:
		out, err := cast.FromType(v, reflect.TypeOf(uint32(0)))
		if err != nil {
			return PublisherID{}, fmt.Errorf("%w: publisherId as uint32: %s", ErrInvalidArgument, err)
		}
		return PublisherID{Kind: kind, UInt32: out.(uint32)}, nil
	case PublisherIDUInt64:
		out, err := cast.FromType(v, reflect.TypeOf(uint64(0)))
		if err != nil {
			return PublisherID{}, fmt.Errorf("%w: publisherId as uint64: %s", ErrInvalidArgument, err)
		}
		return PublisherID{Kind: kind, UInt64: out.(uint64)}, nil
	case PublisherIDString:
		out, err := cast.FromType(v, reflect.TypeOf(""))
		if err != nil {
			return PublisherID{}, fmt.Errorf("%w: publisherId as string: %s", ErrInvalidArgument, err)
		}
		return PublisherID{Kind: kind, Str: out.(string)}, nil
	default:
		return PublisherID{}, fmt.Errorf("%w: unknown publisherId kind %d", ErrInvalidArgument, kind)
	}
}
