package util

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Subnet wraps net.IPNet so CIDR values can move between the config file,
// the store and the firewall in one canonical text form.
type Subnet struct {
	*net.IPNet
}

// NewSubnet creates a new Subnet struct from an IPNet pointer
func NewSubnet(ipNet *net.IPNet) Subnet {
	return Subnet{ipNet}
}

// ParseSubnet parses an IP address or CIDR string into a Subnet.
// Bare addresses become host subnets (/32 for IPv4, /128 for IPv6).
// IPv4-mapped IPv6 notation (::ffff:10.0.0.0/104) is normalized to plain
// IPv4 so the rendered text matches what iptables and the store expect.
func ParseSubnet(str string) (Subnet, error) {
	var subnet Subnet

	text := strings.TrimSpace(str)
	if text == "" {
		return subnet, ErrInvalidSubnet
	}

	// bare address, no prefix length
	if !strings.Contains(text, "/") {
		ip := net.ParseIP(text)
		if ip == nil {
			return subnet, fmt.Errorf("%w: invalid IP address: %s", ErrInvalidSubnet, str)
		}
		if ipv4 := ip.To4(); ipv4 != nil {
			return Subnet{&net.IPNet{IP: ipv4, Mask: net.CIDRMask(32, 32)}}, nil
		}
		return Subnet{&net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}}, nil
	}

	ip, ipNet, err := net.ParseCIDR(text)
	if err != nil {
		return subnet, fmt.Errorf("%w: %v", ErrInvalidSubnet, err)
	}

	// an IPv4 address carrying an IPv6 prefix length is the mapped form;
	// shift the prefix down so 127.0.0.1/128 and ::ffff:10.0.0.0/104
	// come out as 127.0.0.1/32 and 10.0.0.0/8
	ones, bits := ipNet.Mask.Size()
	if bits == 128 && ip.To4() != nil {
		if ones < 96 {
			return subnet, fmt.Errorf("%w: prefix /%d too short for an IPv4 subnet", ErrInvalidSubnet, ones)
		}
		mask := net.CIDRMask(ones-96, 32)
		return Subnet{&net.IPNet{IP: ip.To4().Mask(mask), Mask: mask}}, nil
	}

	return Subnet{ipNet}, nil
}

// NewSubnetList creates a list of Subnet structs from a list of strings
func NewSubnetList(subnets []string) ([]Subnet, error) {
	var subnetList []Subnet
	for _, subnet := range subnets {
		subnet, err := ParseSubnet(subnet)
		if err != nil {
			return nil, err
		}
		subnetList = append(subnetList, subnet)
	}
	return subnetList, nil
}

// NewTestSubnetList creates a list of Subnet structs from a list of strings, but asserts no error using testing library
func NewTestSubnetList(t *testing.T, subnets []string) []Subnet {
	subnetList, err := NewSubnetList(subnets)
	require.NoError(t, err)
	return subnetList
}

// String renders the subnet in canonical CIDR notation. The zero value
// renders as an empty string.
func (s Subnet) String() string {
	if s.IPNet == nil || s.IP == nil {
		return ""
	}

	ones, bits := s.Mask.Size()

	// normalize subnets built from IPv4-mapped addresses
	if ipv4 := s.IP.To4(); ipv4 != nil && bits == 128 && ones >= 96 {
		return fmt.Sprintf("%s/%d", ipv4.String(), ones-96)
	}

	return fmt.Sprintf("%s/%d", s.IP.String(), ones)
}

// MarshalJSON marshals the Subnet struct into JSON bytes
func (s Subnet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON unmarshals the JSON bytes into the IPNet struct
// overrides the default unmarshalling method to allow for custom parsing
func (s *Subnet) UnmarshalJSON(bytes []byte) error {
	var ipString string

	// unmarshal json into the ip string
	if err := json.Unmarshal(bytes, &ipString); err != nil {
		return err
	}

	subnet, err := ParseSubnet(ipString)
	if err != nil {
		return err
	}
	// set struct to unmarshalled value
	*s = subnet

	return nil
}

// CompactSubnets removes duplicate Subnets from a given slice
func CompactSubnets(subnets []Subnet) []Subnet {
	var freshSubnets []Subnet
	dataMap := make(map[string]bool)
	for _, item := range subnets {
		if !dataMap[item.String()] {
			freshSubnets = append(freshSubnets, item)
			dataMap[item.String()] = true
		}
	}
	return freshSubnets
}

// IncludeMandatorySubnets ensures that a given slice of Subnets contains all elements of a mandatory list
func IncludeMandatorySubnets(data []Subnet, mandatory []Subnet) []Subnet {
	// create map to store elements of the given list
	dataMap := make(map[string]bool)
	for _, item := range data {
		dataMap[item.String()] = true
	}

	// check if all elements in the mandatory list exist in the given list
	for _, item := range mandatory {
		if !dataMap[item.String()] {
			data = append(data, item) // append missing element
		}
	}

	return data

}
