package aismsg

// IdentityTuple is the set of identity-bearing attributes extracted from a
// message, used by the matcher alongside kinematics.
type IdentityTuple struct {
	ShipName    *string
	CallSign    *string
	IMO         *int64
	Destination *string
	Length      *float64
	Width       *float64
	TypeClass   TypeClass
}

// IdentityAttr names one of the atomic identity attributes a Segment tracks
// independently.
type IdentityAttr int

const (
	AttrShipName IdentityAttr = iota
	AttrCallSign
	AttrIMO
	AttrDestination
	AttrLength
	AttrWidth
	AttrTypeClass
)

// IdentityAttrs lists every tracked attribute, in a stable order used
// wherever all attributes must be iterated deterministically.
var IdentityAttrs = []IdentityAttr{
	AttrShipName, AttrCallSign, AttrIMO, AttrDestination, AttrLength, AttrWidth, AttrTypeClass,
}

func (a IdentityAttr) String() string {
	switch a {
	case AttrShipName:
		return "shipname"
	case AttrCallSign:
		return "callsign"
	case AttrIMO:
		return "imo"
	case AttrDestination:
		return "destination"
	case AttrLength:
		return "length"
	case AttrWidth:
		return "width"
	case AttrTypeClass:
		return "type_class"
	default:
		return "unknown"
	}
}

// Value returns the observed value for attr from the tuple, and whether the
// message carried a value for it at all. Values are boxed as `any` so the
// identity store can treat every attribute uniformly; callers compare with
// a type-appropriate equality (see segment.IdentityStore).
func (t IdentityTuple) Value(attr IdentityAttr) (any, bool) {
	switch attr {
	case AttrShipName:
		if t.ShipName == nil {
			return nil, false
		}
		return *t.ShipName, true
	case AttrCallSign:
		if t.CallSign == nil {
			return nil, false
		}
		return *t.CallSign, true
	case AttrIMO:
		if t.IMO == nil {
			return nil, false
		}
		return *t.IMO, true
	case AttrDestination:
		if t.Destination == nil {
			return nil, false
		}
		return *t.Destination, true
	case AttrLength:
		if t.Length == nil {
			return nil, false
		}
		return *t.Length, true
	case AttrWidth:
		if t.Width == nil {
			return nil, false
		}
		return *t.Width, true
	case AttrTypeClass:
		return t.TypeClass, true
	default:
		return nil, false
	}
}
