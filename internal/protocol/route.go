package protocol

import "fmt"

// ConnID is the small reusable id a Server assigns to each accepted socket.
type ConnID uint8

func (ConnID) EncodedSize() int          { return 1 }
func (id ConnID) Encode(b *Buffer) error { return b.PushByte(byte(id)) }
func (id *ConnID) Decode(b *Buffer) error {
	v, err := b.PullByte()
	*id = ConnID(v)
	return err
}

// Flavor is the service identity a connection declares when it registers.
// It is used purely for routing.
type Flavor uint8

const (
	FlavorNone Flavor = iota
	FlavorAuth
	FlavorInventory
	FlavorChat
	FlavorGame
	FlavorGateway
	FlavorClient
	FlavorRelay

	flavorCount
)

var flavorStrings = map[Flavor]string{
	FlavorNone:      "none",
	FlavorAuth:      "auth",
	FlavorInventory: "inventory",
	FlavorChat:      "chat",
	FlavorGame:      "game",
	FlavorGateway:   "gateway",
	FlavorClient:    "client",
	FlavorRelay:     "relay",
}

func (f Flavor) String() string {
	if s, ok := flavorStrings[f]; ok {
		return s
	}
	return fmt.Sprintf("flavor(%d)", uint8(f))
}

// Valid reports whether f is part of the vocabulary.
func (f Flavor) Valid() bool {
	return f < flavorCount
}

// ParseFlavor maps a name such as "auth" back to its Flavor.
func ParseFlavor(name string) (Flavor, error) {
	for f, s := range flavorStrings {
		if s == name {
			return f, nil
		}
	}
	return FlavorNone, fmt.Errorf("unknown flavor %q", name)
}

// MarshalText renders the flavor name for JSON output.
func (f Flavor) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (Flavor) EncodedSize() int         { return 1 }
func (f Flavor) Encode(b *Buffer) error { return b.PushByte(byte(f)) }

// Decode rejects tags outside the vocabulary. A peer announcing a flavor we
// do not know cannot be routed to safely.
func (f *Flavor) Decode(b *Buffer) error {
	v, err := b.PullByte()
	if err != nil {
		return err
	}
	if !Flavor(v).Valid() {
		return &UnrecognizedTagError{Kind: "flavor", Tag: v}
	}
	*f = Flavor(v)
	return nil
}

// RouteKind is the tag of a Route.
type RouteKind uint8

const (
	RouteNone RouteKind = iota
	RouteLocal
	RouteOne
	RouteAny
	RouteAll
)

var routeKindStrings = map[RouteKind]string{
	RouteNone:  "none",
	RouteLocal: "local",
	RouteOne:   "one",
	RouteAny:   "any",
	RouteAll:   "all",
}

func (k RouteKind) String() string {
	if s, ok := routeKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("route(%d)", uint8(k))
}

// Route selects the destination of an outbound frame.
//
// ID is meaningful only for RouteOne, Flavor only for RouteAny and RouteAll.
type Route struct {
	Kind   RouteKind
	ID     ConnID
	Flavor Flavor
}

// NoRoute drops the frame.
func NoRoute() Route { return Route{Kind: RouteNone} }

// Local loops the frame back into the sending process without touching the
// network.
func Local() Route { return Route{Kind: RouteLocal} }

// One targets the connection currently holding id.
func One(id ConnID) Route { return Route{Kind: RouteOne, ID: id} }

// Any targets a single registered connection of flavor f.
func Any(f Flavor) Route { return Route{Kind: RouteAny, Flavor: f} }

// All targets every registered connection of flavor f.
func All(f Flavor) Route { return Route{Kind: RouteAll, Flavor: f} }

func (r Route) String() string {
	switch r.Kind {
	case RouteOne:
		return fmt.Sprintf("one(%d)", r.ID)
	case RouteAny, RouteAll:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Flavor)
	default:
		return r.Kind.String()
	}
}

func (r Route) EncodedSize() int {
	switch r.Kind {
	case RouteOne, RouteAny, RouteAll:
		return 2
	default:
		return 1
	}
}

func (r Route) Encode(b *Buffer) error {
	if b.Remaining() < r.EncodedSize() {
		return &WriteError{Requested: r.EncodedSize(), Available: b.Remaining()}
	}
	switch r.Kind {
	case RouteNone, RouteLocal:
		return b.PushByte(byte(r.Kind))
	case RouteOne:
		return b.PushBytes([]byte{byte(r.Kind), byte(r.ID)})
	case RouteAny, RouteAll:
		return b.PushBytes([]byte{byte(r.Kind), byte(r.Flavor)})
	default:
		return &UnrecognizedTagError{Kind: "route", Tag: byte(r.Kind)}
	}
}

// Decode is strict: an unknown route tag or an unknown flavor payload is an
// error rather than a silent drop.
func (r *Route) Decode(b *Buffer) error {
	tag, err := b.PullByte()
	if err != nil {
		return err
	}
	switch kind := RouteKind(tag); kind {
	case RouteNone, RouteLocal:
		*r = Route{Kind: kind}
	case RouteOne:
		var id ConnID
		if err := id.Decode(b); err != nil {
			return err
		}
		*r = One(id)
	case RouteAny, RouteAll:
		var f Flavor
		if err := f.Decode(b); err != nil {
			return err
		}
		*r = Route{Kind: kind, Flavor: f}
	default:
		return &UnrecognizedTagError{Kind: "route", Tag: tag}
	}
	return nil
}
