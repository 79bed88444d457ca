package monitoring

import (
	"sync"
	"time"
)

// RouteSnapshot 单个路由的统计
type RouteSnapshot struct {
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	Rows         int64   `json:"rows"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Routes        map[string]RouteSnapshot `json:"routes"`
}

type routeStats struct {
	requests int64
	errors   int64
	rows     int64
	latency  time.Duration
}

// MetricsCollector 指标收集器，仅保存在内存中
type MetricsCollector struct {
	mu        sync.Mutex
	routes    map[string]*routeStats
	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		routes:    make(map[string]*routeStats),
		startTime: time.Now(),
	}
}

// RecordRequest 记录一次请求；状态码 >= 400 计为错误
func (mc *MetricsCollector) RecordRequest(route string, status int, rows int, latency time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	stats, ok := mc.routes[route]
	if !ok {
		stats = &routeStats{}
		mc.routes[route] = stats
	}
	stats.requests++
	if status >= 400 {
		stats.errors++
	}
	stats.rows += int64(rows)
	stats.latency += latency
}

// Snapshot 获取指标快照
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	snapshot := MetricsSnapshot{
		UptimeSeconds: time.Since(mc.startTime).Seconds(),
		Routes:        make(map[string]RouteSnapshot, len(mc.routes)),
	}
	for route, stats := range mc.routes {
		rs := RouteSnapshot{
			Requests: stats.requests,
			Errors:   stats.errors,
			Rows:     stats.rows,
		}
		if stats.requests > 0 {
			rs.AvgLatencyMS = float64(stats.latency.Microseconds()) / 1000 / float64(stats.requests)
		}
		snapshot.Routes[route] = rs
	}
	return snapshot
}
