package dhcp

import (
	"fmt"
)

// RelayAgentInfo holds the sub-options of the relay agent information option.
type RelayAgentInfo struct {
	CircuitID []byte
	RemoteID  []byte
	Other     []SubOption
}

type SubOption struct {
	Code uint8
	Data []byte
}

func ParseRelayAgentInfo(data []byte) (*RelayAgentInfo, error) {
	info := &RelayAgentInfo{}
	i := 0
	for i < len(data) {
		if i+1 >= len(data) {
			return nil, fmt.Errorf("%w: truncated relay agent sub-option at offset %d", ErrMalformed, i)
		}
		code := data[i]
		n := int(data[i+1])
		i += 2
		if i+n > len(data) {
			return nil, fmt.Errorf("%w: truncated relay agent sub-option %d", ErrMalformed, code)
		}
		sub := append([]byte(nil), data[i:i+n]...)
		i += n

		switch code {
		case SubOptCircuitID:
			info.CircuitID = sub
		case SubOptRemoteID:
			info.RemoteID = sub
		default:
			info.Other = append(info.Other, SubOption{Code: code, Data: sub})
		}
	}
	return info, nil
}

// maxOptionLen is the largest payload a DHCPv4 option or relay agent
// sub-option length byte can describe.
const maxOptionLen = 255

// Encode serializes the sub-options. Sub-options and the whole option are
// limited to 255 bytes each.
func (r *RelayAgentInfo) Encode() ([]byte, error) {
	var buf []byte
	put := func(code uint8, data []byte) error {
		if len(data) > maxOptionLen {
			return fmt.Errorf("%w: relay agent sub-option %d is %d bytes", ErrMalformed, code, len(data))
		}
		buf = append(buf, code, byte(len(data)))
		buf = append(buf, data...)
		return nil
	}

	if len(r.CircuitID) > 0 {
		if err := put(SubOptCircuitID, r.CircuitID); err != nil {
			return nil, err
		}
	}
	if len(r.RemoteID) > 0 {
		if err := put(SubOptRemoteID, r.RemoteID); err != nil {
			return nil, err
		}
	}
	for _, o := range r.Other {
		if err := put(o.Code, o.Data); err != nil {
			return nil, err
		}
	}
	if len(buf) > maxOptionLen {
		return nil, fmt.Errorf("%w: relay agent information is %d bytes", ErrMalformed, len(buf))
	}
	return buf, nil
}
