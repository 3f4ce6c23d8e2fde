// 包 api：注册时区偏移查询路由；解析链路为 客户端地址 -> 地理位置 -> 时区偏移，任一环节失败即终止
package api

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"tz-api/internal/clientip"
	"tz-api/internal/geo"
	"tz-api/internal/logger"
	"tz-api/internal/metrics"
	"tz-api/internal/tzoffset"
)

// OffsetPath：唯一的业务路由
const OffsetPath = "/timezone/offset"

// 统一失败响应体；内部失败原因只进日志与指标
const failureBody = "Server Error"

const (
	maxPendingStats   = 64
	statsWriteTimeout = 2 * time.Second
)

// StatsRecorder：成功响应后的计数写入
type StatsRecorder interface {
	RecordOffset(ctx context.Context, timeZone string, offset int) error
}

// OffsetHandler：GET /timezone/offset
// 约束：Locator 必填；Stats 可为空；Now 为空时使用 time.Now
type OffsetHandler struct {
	Locator geo.Locator
	Stats   StatsRecorder
	Now     func() time.Time

	statsOnce  sync.Once
	statsSlots chan struct{}
	statsWG    sync.WaitGroup
}

// offsetResult：一次成功解析的中间结果，供日志与统计使用
type offsetResult struct {
	ClientIP netip.Addr
	TimeZone string
	Offset   int
}

func (h *OffsetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.RequestsTotal.Inc()
	defer func() {
		metrics.RequestDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	}()

	res, err := h.resolve(r)
	if err != nil {
		kind := failureKind(err)
		metrics.FailuresTotal.WithLabelValues(kind).Inc()
		logger.L().Info("tz_offset_fail", "kind", kind, "peer", r.RemoteAddr, "err", err)
		writeText(w, http.StatusInternalServerError, failureBody)
		return
	}
	logger.L().Debug("tz_offset_ok", "ip", res.ClientIP.String(), "tz", res.TimeZone, "offset", res.Offset)
	writeText(w, http.StatusOK, strconv.Itoa(res.Offset))

	if h.Stats != nil {
		h.recordAsync(r.Context(), res)
	}
}

// recordAsync：在后台写入统计，不占用响应路径
// 约束：并发写入数受 maxPendingStats 限制，超出时丢弃并计数；单次写入受 statsWriteTimeout 约束
func (h *OffsetHandler) recordAsync(ctx context.Context, res offsetResult) {
	h.statsOnce.Do(func() { h.statsSlots = make(chan struct{}, maxPendingStats) })
	select {
	case h.statsSlots <- struct{}{}:
	default:
		metrics.StatsDroppedTotal.Inc()
		logger.L().Warn("stats_write_dropped", "tz", res.TimeZone)
		return
	}
	ctx = context.WithoutCancel(ctx)
	h.statsWG.Add(1)
	go func() {
		defer h.statsWG.Done()
		defer func() { <-h.statsSlots }()
		ctx, cancel := context.WithTimeout(ctx, statsWriteTimeout)
		defer cancel()
		if err := h.Stats.RecordOffset(ctx, res.TimeZone, res.Offset); err != nil {
			metrics.StatsWriteFailTotal.Inc()
			logger.L().Warn("stats_write_error", "tz", res.TimeZone, "err", err)
		}
	}()
}

// WaitStats：等待已提交的统计写入结束；关闭统计库前调用
func (h *OffsetHandler) WaitStats() {
	h.statsWG.Wait()
}

// resolve：顺序执行各阶段，首个失败直接返回
func (h *OffsetHandler) resolve(r *http.Request) (offsetResult, error) {
	var res offsetResult
	peer, err := clientip.PeerAddress(r.RemoteAddr)
	if err != nil {
		return res, err
	}
	forwarded, present := forwardedFor(r.Header)
	res.ClientIP, err = clientip.Resolve(peer, forwarded, present)
	if err != nil {
		return res, err
	}
	res.TimeZone, err = geo.TimeZone(h.Locator, res.ClientIP)
	if err != nil {
		return res, err
	}
	res.Offset, err = tzoffset.Compute(res.TimeZone, h.now())
	if err != nil {
		return res, err
	}
	return res, nil
}

func (h *OffsetHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// forwardedFor：读取首个 X-Forwarded-For 头部值；头部出现但值为空同样视为存在
func forwardedFor(hdr http.Header) (string, bool) {
	vals, ok := hdr[http.CanonicalHeaderKey(clientip.HeaderForwardedFor)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// failureKind：将内部错误映射为稳定的日志/指标标签
func failureKind(err error) string {
	switch {
	case errors.Is(err, clientip.ErrMissingPeerAddress):
		return "missing_peer"
	case errors.Is(err, clientip.ErrMalformedChainEntry):
		return "malformed_chain"
	case errors.Is(err, clientip.ErrNoGlobalAddressFound):
		return "no_global_address"
	case errors.Is(err, geo.ErrLocationNotFound):
		return "location_not_found"
	case errors.Is(err, tzoffset.ErrUnknownTimezone):
		return "unknown_timezone"
	}
	return "internal"
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// BuildRoutes：构建业务路由；仅响应 GET
func BuildRoutes(h *OffsetHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET "+OffsetPath, h)
	return mux
}
