package dhcp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// InterfaceID is the DHCPv6 INTERFACE-ID payload written by this relay:
// client MAC (6 bytes) || "-<connect-point>:" || VLAN (2 bytes, big endian).
type InterfaceID struct {
	MAC          net.HardwareAddr
	ConnectPoint models.ConnectPoint
	VLAN         uint16
}

func (i InterfaceID) Encode() []byte {
	cp := "-" + i.ConnectPoint.String() + ":"
	buf := make([]byte, 0, 6+len(cp)+2)
	mac := make([]byte, 6)
	copy(mac, i.MAC)
	buf = append(buf, mac...)
	buf = append(buf, cp...)
	return binary.BigEndian.AppendUint16(buf, i.VLAN)
}

func ParseInterfaceID(b []byte) (InterfaceID, error) {
	// 6 MAC + '-' + at least "d/p" + ':' + 2 VLAN
	if len(b) < 6+1+3+1+2 {
		return InterfaceID{}, fmt.Errorf("%w: interface id too short (%d bytes)", ErrMalformed, len(b))
	}
	if b[6] != '-' || b[len(b)-3] != ':' {
		return InterfaceID{}, fmt.Errorf("%w: interface id framing", ErrMalformed)
	}

	cp, err := models.ParseConnectPoint(string(b[7 : len(b)-3]))
	if err != nil {
		return InterfaceID{}, fmt.Errorf("%w: interface id: %v", ErrMalformed, err)
	}

	return InterfaceID{
		MAC:          append(net.HardwareAddr(nil), b[:6]...),
		ConnectPoint: cp,
		VLAN:         binary.BigEndian.Uint16(b[len(b)-2:]),
	}, nil
}
