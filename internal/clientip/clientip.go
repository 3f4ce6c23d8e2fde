// 包 clientip：从传输层对端地址与 X-Forwarded-For 链中解析真实客户端地址
package clientip

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// HeaderForwardedFor：代理链头部名称
const HeaderForwardedFor = "X-Forwarded-For"

var (
	ErrMissingPeerAddress   = errors.New("clientip: missing peer address")
	ErrMalformedChainEntry  = errors.New("clientip: malformed forwarded chain entry")
	ErrNoGlobalAddressFound = errors.New("clientip: no global address in forwarded chain")
)

// PeerAddress：解析 RemoteAddr（host:port 或裸地址）为对端 IP
// 约束：IPv6 zone 保留；为空或无法解析时返回 ErrMissingPeerAddress
func PeerAddress(remoteAddr string) (netip.Addr, error) {
	s := strings.TrimSpace(remoteAddr)
	if s == "" {
		return netip.Addr{}, ErrMissingPeerAddress
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrMissingPeerAddress, remoteAddr)
	}
	return ip.Unmap(), nil
}

// Resolve：确定请求的真实客户端地址
// 背景：各级代理依次在链尾追加地址，因此自尾向头扫描，返回最近记录的公网地址，跳过内网跳点。
// 约束：未携带头部时直接返回 peer，不做公网校验；
// 条目须为不带 zone 的裸地址；扫描途中遇到无法解析的条目立即失败，不跳过，即便更靠前的位置存在合法公网地址。
func Resolve(peer netip.Addr, forwarded string, present bool) (netip.Addr, error) {
	if !present {
		return peer, nil
	}
	chain := strings.Split(forwarded, ",")
	for i := len(chain) - 1; i >= 0; i-- {
		entry := strings.TrimSpace(chain[i])
		ip, err := netip.ParseAddr(entry)
		if err == nil && ip.Zone() != "" {
			err = errors.New("zone not allowed")
		}
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%w: position %d %q: %v", ErrMalformedChainEntry, i, entry, err)
		}
		if IsGlobal(ip) {
			return ip.Unmap(), nil
		}
	}
	return netip.Addr{}, ErrNoGlobalAddressFound
}

// IsGlobal：判断地址是否为公网可路由地址
// 排除未指定、回环、链路本地、组播、私有（RFC 1918 / RFC 4193）；IPv4 映射地址先还原为 IPv4 再判断。
func IsGlobal(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() && !ip.IsPrivate()
}
