package models

import (
	"time"
)

// RequestMetric is the durable form of one completed API request, written
// in batches by the metrics flusher.
type RequestMetric struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	CallerID       string    `gorm:"index" json:"caller_id,omitempty"`
	Tier           string    `gorm:"index" json:"tier"`
	Method         string    `json:"method"`
	Endpoint       string    `gorm:"index" json:"endpoint"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Provider       string    `json:"provider,omitempty"`
	BytesOut       int64     `json:"bytes_out"`
	ErrorType      string    `json:"error_type,omitempty"`
	IPAddress      string    `json:"ip_address"`
}

func (RequestMetric) TableName() string {
	return "request_metrics"
}
