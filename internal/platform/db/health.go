package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// healthTimeout bounds the ping of a health check.
const healthTimeout = 3 * time.Second

// PoolStats is the connection pool state reported by /health/db.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

// Pinger is the part of *pgxpool.Pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the body of the knowledge-base health check.
type HealthReport struct {
	Status    string     `json:"status"`
	LatencyMS int64      `json:"latency_ms"`
	Error     string     `json:"error,omitempty"`
	Pool      *PoolStats `json:"pool,omitempty"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
	}
}

// Check pings p and reports the outcome.
func Check(ctx context.Context, p Pinger) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	report := HealthReport{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		report.Status = "unhealthy"
		report.Error = err.Error()
	}
	if pool, ok := p.(*pgxpool.Pool); ok {
		report.Pool = poolStats(pool)
	}
	return report
}

// HealthHandler serves Check, answering 503 when the database is down.
func HealthHandler(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		report := Check(c.Request().Context(), p)
		status := http.StatusOK
		if report.Error != "" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, report)
	}
}
