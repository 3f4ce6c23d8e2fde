// 包 tzoffset：按 IANA 时区规则计算给定时刻的 UTC 偏移（秒，东正西负）
package tzoffset

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

var ErrUnknownTimezone = errors.New("tzoffset: unknown time zone")

// Compute：计算时区 name 在 now 时刻生效的 UTC 偏移
// 约束：结果仅对 now 有效，夏令时切换会改变偏移，调用方不得跨请求缓存。
// 空名称与 Go 专用的 "Local" 不属于 IANA 标识，按未知时区处理。
func Compute(name string, now time.Time) (int, error) {
	loc, err := Load(name)
	if err != nil {
		return 0, err
	}
	_, offset := now.In(loc).Zone()
	return offset, nil
}

// Load：解析 IANA 时区标识
func Load(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownTimezone, name, err)
	}
	return loc, nil
}
