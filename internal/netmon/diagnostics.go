package netmon

import (
	"context"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// DiagnosticResult is a one-shot bandwidth/latency reading against the
// nearest speedtest server, exposed via the control server's
// /v1/diagnostics/speedtest route. It is not part of the NetworkState
// monitor contract — a caller asking "are we online" wants Snapshot, not
// this; this answers "how fast," on demand, at real network cost.
type DiagnosticResult struct {
	DownloadMbps   float64   `json:"download_mbps"`
	UploadMbps     float64   `json:"upload_mbps"`
	PingMs         int64     `json:"ping_ms"`
	ServerName     string    `json:"server_name"`
	ServerLocation string    `json:"server_location"`
	ServerHost     string    `json:"server_host"`
	ISP            string    `json:"isp"`
	Timestamp      time.Time `json:"timestamp"`
}

// Diagnose runs a speed test against the nearest server. Grounded on
// internal/core/network.go's RunSpeedTest, adapted to return DiagnosticResult
// and accept a caller-supplied context instead of a hardcoded 30s timeout.
func Diagnose(ctx context.Context) (*DiagnosticResult, error) {
	user, err := speedtest.FetchUserInfo()
	if err != nil {
		return nil, fmt.Errorf("no internet connection: %w", err)
	}

	serverList, err := speedtest.FetchServers()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch servers: %w", err)
	}

	targets, err := serverList.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return nil, fmt.Errorf("no speed test servers available")
	}
	server := targets[0]

	if err := server.PingTestContext(ctx, nil); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("speed test timed out")
		}
		return nil, fmt.Errorf("ping test failed: %w", err)
	}
	if err := server.DownloadTestContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("speed test timed out during download")
		}
		return nil, fmt.Errorf("download test failed: %w", err)
	}
	if err := server.UploadTestContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("speed test timed out during upload")
		}
		return nil, fmt.Errorf("upload test failed: %w", err)
	}

	return &DiagnosticResult{
		DownloadMbps:   float64(server.DLSpeed) / 1000 / 1000 * 8,
		UploadMbps:     float64(server.ULSpeed) / 1000 / 1000 * 8,
		PingMs:         int64(server.Latency.Milliseconds()),
		ServerName:     server.Name,
		ServerLocation: fmt.Sprintf("%s, %s", server.Name, server.Country),
		ServerHost:     server.Host,
		ISP:            user.Isp,
		Timestamp:      time.Now(),
	}, nil
}
