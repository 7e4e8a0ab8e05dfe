package utils

import (
	"net/netip"

	"github.com/gin-gonic/gin"
)

// ClientAddr returns the requester's address with IPv4-mapped IPv6 unwrapped.
// The zero Addr is returned when gin cannot determine one.
func ClientAddr(c *gin.Context) netip.Addr {
	addr, err := netip.ParseAddr(c.ClientIP())
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
