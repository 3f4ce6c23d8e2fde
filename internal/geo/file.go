package geo

import (
	"net"
	"net/netip"

	"tz-api/internal/logger"

	"github.com/oschwald/geoip2-golang"
)

// FileLocator：每次查询都重新打开数据集
// 背景：不持有跨请求句柄，数据文件被替换后下一次请求即读取新文件，无需重启进程。
// 约束：打开失败按未命中处理，仅记录日志。
type FileLocator struct {
	Path string
}

func NewFileLocator(path string) *FileLocator { return &FileLocator{Path: path} }

func (f *FileLocator) Lookup(ip netip.Addr) (Record, bool) {
	db, err := geoip2.Open(f.Path)
	if err != nil {
		logger.L().Warn("geoip_open_error", "path", f.Path, "err", err)
		return Record{}, false
	}
	defer db.Close()
	city, err := db.City(net.IP(ip.AsSlice()))
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", ip.String(), "err", err)
		return Record{}, false
	}
	if city == nil {
		return Record{}, false
	}
	rec := Record{
		Country:  city.Country.IsoCode,
		City:     city.City.Names["en"],
		TimeZone: city.Location.TimeZone,
	}
	if rec == (Record{}) {
		return Record{}, false
	}
	return rec, true
}
