package modbus

import (
	"time"
)

// Stats returns a point-in-time copy of the client statistics.
func (c *Client) Stats() ClientStatsSnapshot {
	readCount := c.stats.ReadCount.Load()
	writeCount := c.stats.WriteCount.Load()
	totalReadNs := c.stats.TotalReadTime.Load()
	totalWriteNs := c.stats.TotalWriteTime.Load()

	var avgReadMs, avgWriteMs float64
	if readCount > 0 {
		avgReadMs = float64(totalReadNs) / float64(readCount) / 1e6
	}
	if writeCount > 0 {
		avgWriteMs = float64(totalWriteNs) / float64(writeCount) / 1e6
	}

	snapshot := ClientStatsSnapshot{
		Address:        c.Address(),
		ReadCount:      readCount,
		WriteCount:     writeCount,
		ErrorCount:     c.stats.ErrorCount.Load(),
		AvgReadTimeMs:  avgReadMs,
		AvgWriteTimeMs: avgWriteMs,
		Connected:      c.IsConnected(),
		LastUsed:       c.LastUsed(),
	}
	if err := c.LastError(); err != nil {
		snapshot.LastError = err.Error()
	}
	return snapshot
}

// LastUsed returns when the client was last used.
func (c *Client) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// LastError returns the most recent transport error, or nil.
func (c *Client) LastError() error {
	if err, ok := c.lastError.Load().(error); ok {
		return err
	}
	return nil
}

// Address returns the host:port this client talks to.
func (c *Client) Address() string {
	return c.config.Address
}
