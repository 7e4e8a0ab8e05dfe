package models

import (
	"database/sql/driver"
	"fmt"
	"net/netip"
)

// IPAddr stores an address in its packed binary form. IPv4-mapped IPv6
// addresses are unmapped on the way in so both spellings compare equal.
type IPAddr struct {
	netip.Addr
}

// NewIPAddr wraps a, normalizing mapped addresses.
func NewIPAddr(a netip.Addr) IPAddr {
	return IPAddr{Addr: a.Unmap()}
}

// GormDataType maps to blob/bytea/longblob depending on the dialect.
func (IPAddr) GormDataType() string { return "bytes" }

func (a IPAddr) Value() (driver.Value, error) {
	if !a.IsValid() {
		return nil, nil
	}
	return a.Unmap().AsSlice(), nil
}

func (a *IPAddr) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		a.Addr = netip.Addr{}
		return nil
	case []byte:
		addr, ok := netip.AddrFromSlice(v)
		if !ok {
			return fmt.Errorf("ipaddr: invalid length %d", len(v))
		}
		a.Addr = addr.Unmap()
		return nil
	case string:
		return a.Scan([]byte(v))
	default:
		return fmt.Errorf("ipaddr: unsupported type %T", src)
	}
}

// IPNetwork stores a CIDR prefix as text.
type IPNetwork struct {
	netip.Prefix
}

func (IPNetwork) GormDataType() string { return "string" }

func (n IPNetwork) Value() (driver.Value, error) {
	if !n.IsValid() {
		return nil, nil
	}
	return n.Masked().String(), nil
}

func (n *IPNetwork) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		n.Prefix = netip.Prefix{}
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("ipnetwork: unsupported type %T", src)
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return fmt.Errorf("ipnetwork: %w", err)
	}
	n.Prefix = p
	return nil
}
