package models

import (
	"fmt"
	"strings"
)

// ConnectPoint identifies a port on a forwarding device. Its text form is
// "<device>/<port>".
type ConnectPoint struct {
	DeviceID string `json:"device" yaml:"device"`
	Port     string `json:"port" yaml:"port"`
}

func (c ConnectPoint) String() string {
	if c.IsZero() {
		return ""
	}
	return c.DeviceID + "/" + c.Port
}

func (c ConnectPoint) IsZero() bool {
	return c.DeviceID == "" && c.Port == ""
}

// ParseConnectPoint splits on the last '/', so device identifiers may
// themselves contain slashes.
func ParseConnectPoint(s string) (ConnectPoint, error) {
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return ConnectPoint{}, fmt.Errorf("invalid connect point %q", s)
	}
	return ConnectPoint{DeviceID: s[:idx], Port: s[idx+1:]}, nil
}

func (c ConnectPoint) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ConnectPoint) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = ConnectPoint{}
		return nil
	}
	cp, err := ParseConnectPoint(string(b))
	if err != nil {
		return err
	}
	*c = cp
	return nil
}
