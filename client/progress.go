package client

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// progressWriter is an io.Writer, logging body assembly progress at
// most once per second.
type progressWriter struct {
	w         io.Writer
	logger    *slog.Logger
	url       string
	received  int64
	total     int64 // -1 when the server did not announce a length
	startTime time.Time
	lastLog   time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.received += int64(n)

	if time.Since(pw.lastLog) >= time.Second {
		pw.lastLog = time.Now()
		pw.log("receiving body")
	}

	if pw.total >= 0 && pw.received == pw.total {
		pw.log("body received")
	}

	return n, err
}

func (pw *progressWriter) log(msg string) {
	elapsed := time.Since(pw.startTime)

	progress := "unknown"
	if pw.total > 0 {
		progress = fmt.Sprintf("%.1f%%", float64(pw.received)/float64(pw.total)*100)
	}

	var mbps float64
	if secs := elapsed.Seconds(); secs > 0 {
		mbps = float64(pw.received) / secs / (1024 * 1024)
	}

	pw.logger.Info(msg,
		"url", pw.url,
		"progress", progress,
		"elapsed", elapsed.Round(time.Millisecond),
		"received", pw.received,
		"total", pw.total,
		"mbps", fmt.Sprintf("%.2f", mbps),
	)
}
