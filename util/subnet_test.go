package util

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SubnetSuite struct {
	suite.Suite
}

func TestSubnets(t *testing.T) {
	suite.Run(t, new(SubnetSuite))
}

func (s *SubnetSuite) TestParseSubnet() {
	t := s.T()

	tests := []struct {
		name      string
		input     string
		expected  string
		shouldErr bool
	}{
		{name: "IPv4 CIDR", input: "10.0.0.0/8", expected: "10.0.0.0/8"},
		{name: "IPv4 CIDR with host bits set", input: "192.168.1.77/24", expected: "192.168.1.0/24"},
		{name: "Bare IPv4 address", input: "192.168.1.1", expected: "192.168.1.1/32"},
		{name: "Bare IPv6 address", input: "2001:db8::1", expected: "2001:db8::1/128"},
		{name: "IPv6 CIDR", input: "2001:db8::/64", expected: "2001:db8::/64"},
		{name: "IPv4-mapped IPv6 CIDR", input: "::ffff:10.0.0.0/104", expected: "10.0.0.0/8"},
		{name: "IPv4-mapped IPv6 address", input: "::ffff:192.168.1.1", expected: "192.168.1.1/32"},
		{name: "IPv4-mapped host CIDR", input: "::ffff:203.0.113.9/128", expected: "203.0.113.9/32"},
		{name: "Surrounding whitespace", input: " 10.0.0.0/8 ", expected: "10.0.0.0/8"},
		{name: "Unspecified IPv6", input: "::", expected: "::/128"},
		{name: "IPv4-mapped prefix too short", input: "::ffff:10.0.0.0/64", shouldErr: true},
		{name: "IPv4 prefix too long", input: "10.0.0.0/33", shouldErr: true},
		{name: "Not an address", input: "bogus", shouldErr: true},
		{name: "Empty string", input: "", shouldErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			subnet, err := ParseSubnet(test.input)
			if test.shouldErr {
				require.Error(t, err, "parsing %q should fail", test.input)
				require.ErrorIs(t, err, ErrInvalidSubnet)
				return
			}
			require.NoError(t, err, "parsing %q should succeed", test.input)
			require.Equal(t, test.expected, subnet.String())
		})
	}
}

func (s *SubnetSuite) TestParseSubnetKeepsIPv4Native() {
	t := s.T()

	// the firewall backends render subnets straight into rule arguments,
	// so IPv4 input must come back out as 4-byte IPv4
	subnet, err := ParseSubnet("10.20.0.0/16")
	require.NoError(t, err)
	require.NotNil(t, subnet.IP.To4())
	require.Len(t, subnet.IP, net.IPv4len)

	ones, bits := subnet.Mask.Size()
	require.Equal(t, 16, ones)
	require.Equal(t, 32, bits)

	require.True(t, subnet.Contains(net.ParseIP("10.20.30.40")))
	require.False(t, subnet.Contains(net.ParseIP("10.21.0.1")))
}

func (s *SubnetSuite) TestSubnetString() {
	t := s.T()

	require.Equal(t, "", Subnet{}.String(), "the zero value should render empty")

	mapped := NewSubnet(&net.IPNet{IP: net.ParseIP("::ffff:172.16.0.0"), Mask: net.CIDRMask(108, 128)})
	require.Equal(t, "172.16.0.0/12", mapped.String(), "mapped form should normalize to IPv4")

	v6 := NewSubnet(&net.IPNet{IP: net.ParseIP("2001:db8::"), Mask: net.CIDRMask(48, 128)})
	require.Equal(t, "2001:db8::/48", v6.String())
}

func (s *SubnetSuite) TestSubnetJSON() {
	t := s.T()

	subnet, err := ParseSubnet("198.51.100.0/24")
	require.NoError(t, err)

	encoded, err := json.Marshal(subnet)
	require.NoError(t, err)
	require.JSONEq(t, `"198.51.100.0/24"`, string(encoded))

	var decoded Subnet
	require.NoError(t, json.Unmarshal([]byte(`"::ffff:198.51.100.0/120"`), &decoded))
	require.Equal(t, "198.51.100.0/24", decoded.String(), "mapped input should decode to the same subnet")

	require.Error(t, json.Unmarshal([]byte(`"not-a-subnet"`), &decoded))
}

func (s *SubnetSuite) TestNewSubnetList() {
	t := s.T()

	subnets, err := NewSubnetList([]string{"192.168.1.0/24", "2001:db8::/64", "172.16.10.5"})
	require.NoError(t, err)
	require.Len(t, subnets, 3)
	require.Equal(t, "192.168.1.0/24", subnets[0].String())
	require.Equal(t, "2001:db8::/64", subnets[1].String())
	require.Equal(t, "172.16.10.5/32", subnets[2].String())

	_, err = NewSubnetList([]string{"192.168.1.0/24", "192.168.1.0/33"})
	require.Error(t, err, "one bad entry should fail the whole list")
}

func (s *SubnetSuite) TestCompactSubnets() {
	t := s.T()

	subnets := NewTestSubnetList(t, []string{
		"10.0.0.0/8",
		"192.168.1.0/24",
		"10.0.0.0/8",          // exact duplicate
		"::ffff:10.0.0.0/104", // mapped spelling of 10.0.0.0/8
		"192.168.1.200/24",    // host bits set, same network
	})

	compacted := CompactSubnets(subnets)
	require.Len(t, compacted, 2, "equivalent subnets should collapse to one entry")
	require.Equal(t, "10.0.0.0/8", compacted[0].String())
	require.Equal(t, "192.168.1.0/24", compacted[1].String())
}

func (s *SubnetSuite) TestIncludeMandatorySubnets() {
	t := s.T()

	data := NewTestSubnetList(t, []string{"10.0.0.0/8"})
	mandatory := NewTestSubnetList(t, []string{"127.0.0.0/8", "10.0.0.0/8"})

	combined := IncludeMandatorySubnets(data, mandatory)
	require.Len(t, combined, 2, "existing mandatory entries should not duplicate")
	require.Equal(t, "10.0.0.0/8", combined[0].String())
	require.Equal(t, "127.0.0.0/8", combined[1].String())
}
