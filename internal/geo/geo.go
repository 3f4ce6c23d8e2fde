// 包 geo：客户端地址到地理位置与时区名称的解析
// 背景：数据集为 MaxMind City 格式（GeoLite2/GeoIP2）的只读离线库，通过 Locator 注入，
// 调用方可选择每次打开（FileLocator）或进程级共享句柄（SharedLocator），对外行为一致。
package geo

import (
	"errors"
	"fmt"
	"net/netip"

	"tz-api/internal/metrics"
)

var ErrLocationNotFound = errors.New("geo: location not found")

// Record：一次命中的位置记录，仅保留业务关心的字段
type Record struct {
	Country  string
	City     string
	TimeZone string
}

// Locator：按 IP 查询位置记录
// 约束：数据集不可达与无记录均返回 false，调用方无法也无需区分；实现需可并发调用。
type Locator interface {
	Lookup(ip netip.Addr) (Record, bool)
}

// TimeZone：解析 IP 所在时区名称
// 返回：IANA 时区名；无记录或记录缺少时区字段时返回 ErrLocationNotFound
func TimeZone(l Locator, ip netip.Addr) (string, error) {
	if l == nil {
		return "", fmt.Errorf("%w: no locator", ErrLocationNotFound)
	}
	rec, ok := l.Lookup(ip)
	if !ok {
		metrics.GeoIPLookupsTotal.WithLabelValues("miss").Inc()
		return "", fmt.Errorf("%w: %s", ErrLocationNotFound, ip)
	}
	if rec.TimeZone == "" {
		metrics.GeoIPLookupsTotal.WithLabelValues("no_timezone").Inc()
		return "", fmt.Errorf("%w: %s has no time zone", ErrLocationNotFound, ip)
	}
	metrics.GeoIPLookupsTotal.WithLabelValues("hit").Inc()
	return rec.TimeZone, nil
}
