package relay

// Connectivity is decided once per inbound message and carried through the
// relay decision.
type Connectivity uint8

const (
	Direct Connectivity = iota + 1
	Indirect
)

func (c Connectivity) String() string {
	switch c {
	case Direct:
		return "direct"
	case Indirect:
		return "indirect"
	default:
		return "unknown"
	}
}

func (c Connectivity) IsDirect() bool {
	return c == Direct
}
