package ike

import (
	"fmt"
	"net"
)

// IPNetToFirstLastAddress returns the first and last address of an
// IPNet's range (the network address and the all-ones host address), the
// pair ChildConfig.AddSelector turns into a traffic selector's
// StartAddress/EndAddress.
func IPNetToFirstLastAddress(n *net.IPNet) (first, last net.IP, err error) {
	if n == nil {
		return nil, nil, fmt.Errorf("nil ip net")
	}
	ip := n.IP.To4()
	mask := n.Mask
	if ip == nil {
		ip = n.IP.To16()
		mask = n.Mask
	}
	if ip == nil {
		return nil, nil, fmt.Errorf("invalid ip net %v", n)
	}
	first = make(net.IP, len(ip))
	last = make(net.IP, len(ip))
	for i := range ip {
		m := mask[i]
		first[i] = ip[i] & m
		last[i] = ip[i] | ^m
	}
	return first, last, nil
}
