package geo

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"

	"tz-api/internal/logger"
	"tz-api/internal/metrics"

	"github.com/oschwald/maxminddb-golang"
)

// cityRecord：City 库中参与解码的最小字段集
type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Location struct {
		TimeZone string `maxminddb:"time_zone"`
	} `maxminddb:"location"`
}

// SharedLocator：进程级共享的只读数据集句柄
// 背景：数据整体读入内存后由多个请求并发读取；Reload 原子替换句柄，旧句柄交由 GC 回收，
// 不调用 Close，避免与进行中的读取竞争。
type SharedLocator struct {
	path string
	r    atomic.Pointer[maxminddb.Reader]
}

// NewSharedLocator：打开数据集；失败直接返回错误，由启动流程决定是否退出
func NewSharedLocator(path string) (*SharedLocator, error) {
	s := &SharedLocator{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload：重新读取数据文件并替换句柄；失败时保留当前句柄
func (s *SharedLocator) Reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		metrics.GeoIPReloadsTotal.WithLabelValues("fail").Inc()
		return fmt.Errorf("geo: read %s: %w", s.path, err)
	}
	r, err := maxminddb.FromBytes(b)
	if err != nil {
		metrics.GeoIPReloadsTotal.WithLabelValues("fail").Inc()
		return fmt.Errorf("geo: open %s: %w", s.path, err)
	}
	s.r.Store(r)
	metrics.GeoIPReloadsTotal.WithLabelValues("ok").Inc()
	logger.L().Info("geoip_loaded",
		"path", s.path,
		"type", r.Metadata.DatabaseType,
		"build_epoch", r.Metadata.BuildEpoch,
	)
	return nil
}

func (s *SharedLocator) Lookup(ip netip.Addr) (Record, bool) {
	r := s.r.Load()
	if r == nil {
		return Record{}, false
	}
	var rec cityRecord
	_, ok, err := r.LookupNetwork(net.IP(ip.AsSlice()), &rec)
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", ip.String(), "err", err)
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}
	out := Record{
		Country:  rec.Country.ISOCode,
		City:     rec.City.Names["en"],
		TimeZone: rec.Location.TimeZone,
	}
	return out, out != Record{}
}
