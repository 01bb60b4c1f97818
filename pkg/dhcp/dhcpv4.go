package dhcp

import (
	"fmt"

	"github.com/google/gopacket/layers"
)

// MessageTypeOf returns option 53 of a decoded DHCPv4 layer.
func MessageTypeOf(d *layers.DHCPv4) MessageType {
	opt, ok := GetOption(d, layers.DHCPOptMessageType)
	if !ok || len(opt.Data) != 1 {
		return MessageTypeUnset
	}
	return MessageType(opt.Data[0])
}

func GetOption(d *layers.DHCPv4, t layers.DHCPOpt) (layers.DHCPOption, bool) {
	for _, o := range d.Options {
		if o.Type == t {
			return o, true
		}
	}
	return layers.DHCPOption{}, false
}

// SetOption replaces the first option of the same type or appends a new one.
// Pad and End entries are dropped; End is written by the serializer.
func SetOption(d *layers.DHCPv4, t layers.DHCPOpt, data []byte) {
	opt := layers.NewDHCPOption(t, data)
	out := make(layers.DHCPOptions, 0, len(d.Options)+1)
	replaced := false
	for _, o := range d.Options {
		switch {
		case o.Type == layers.DHCPOptPad || o.Type == layers.DHCPOptEnd:
			continue
		case o.Type == t && !replaced:
			out = append(out, opt)
			replaced = true
		case o.Type == t:
			continue
		default:
			out = append(out, o)
		}
	}
	if !replaced {
		out = append(out, opt)
	}
	d.Options = out
}

func RemoveOption(d *layers.DHCPv4, t layers.DHCPOpt) {
	out := d.Options[:0]
	for _, o := range d.Options {
		if o.Type != t && o.Type != layers.DHCPOptEnd {
			out = append(out, o)
		}
	}
	d.Options = out
}

// RelayAgentInfoOf decodes option 82 if present.
func RelayAgentInfoOf(d *layers.DHCPv4) (*RelayAgentInfo, bool, error) {
	opt, ok := GetOption(d, OptRelayAgentInfo)
	if !ok {
		return nil, false, nil
	}
	info, err := ParseRelayAgentInfo(opt.Data)
	if err != nil {
		return nil, true, fmt.Errorf("option 82: %w", err)
	}
	return info, true, nil
}

// CircuitOwner reports whether a decoded circuit-id names one of this
// relay's interfaces. Foreign relays may use a syntactically identical
// encoding, so parsing alone does not decide ownership.
type CircuitOwner func(CircuitID) bool

// OwnCircuitID returns the circuit-id of option 82 when it decodes in this
// relay's own encoding and owns accepts it.
func OwnCircuitID(d *layers.DHCPv4, owns CircuitOwner) (CircuitID, bool) {
	info, present, err := RelayAgentInfoOf(d)
	if !present || err != nil || len(info.CircuitID) == 0 {
		return CircuitID{}, false
	}
	cid, err := ParseCircuitID(info.CircuitID)
	if err != nil || !owns(cid) {
		return CircuitID{}, false
	}
	return cid, true
}

// HasForeignCircuitID reports whether option 82 carries a circuit-id that
// was not written by this relay.
func HasForeignCircuitID(d *layers.DHCPv4, owns CircuitOwner) bool {
	info, present, err := RelayAgentInfoOf(d)
	if !present {
		return false
	}
	if err != nil {
		return true
	}
	if len(info.CircuitID) == 0 {
		return false
	}
	cid, err := ParseCircuitID(info.CircuitID)
	return err != nil || !owns(cid)
}

func IsBroadcast(d *layers.DHCPv4) bool {
	return d.Flags&BroadcastFlag != 0
}
