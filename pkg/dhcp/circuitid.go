package dhcp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// ErrMalformed is wrapped by every decode error of this package.
var ErrMalformed = errors.New("malformed dhcp option")

const vlanNoneText = "None"

// CircuitID is the relay's own circuit-id encoding: "<connect-point>:<vlan>".
type CircuitID struct {
	ConnectPoint models.ConnectPoint
	VLAN         uint16
}

func (c CircuitID) String() string {
	vlan := vlanNoneText
	if c.VLAN != models.VLANNone {
		vlan = strconv.Itoa(int(c.VLAN))
	}
	return c.ConnectPoint.String() + ":" + vlan
}

func (c CircuitID) Encode() []byte {
	return []byte(c.String())
}

// ParseCircuitID decodes a circuit-id produced by Encode. The split is on
// the last ':' because connect points may contain colons.
func ParseCircuitID(b []byte) (CircuitID, error) {
	s := string(b)
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		return CircuitID{}, fmt.Errorf("%w: circuit id %q", ErrMalformed, s)
	}

	cp, err := models.ParseConnectPoint(s[:idx])
	if err != nil {
		return CircuitID{}, fmt.Errorf("%w: circuit id %q: %v", ErrMalformed, s, err)
	}

	var vlan uint16
	if v := s[idx+1:]; v != vlanNoneText {
		n, err := strconv.ParseUint(v, 10, 12)
		if err != nil {
			return CircuitID{}, fmt.Errorf("%w: circuit id vlan %q", ErrMalformed, v)
		}
		vlan = uint16(n)
	}

	return CircuitID{ConnectPoint: cp, VLAN: vlan}, nil
}
