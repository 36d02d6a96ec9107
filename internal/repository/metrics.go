package repository

import (
	"context"
	"time"

	"github.com/finsight/api-governor/internal/metrics"
	"github.com/finsight/api-governor/internal/models"
	"github.com/finsight/api-governor/internal/storage"
)

// MetricRepository is the persistence collaborator behind the metrics
// flusher: it accepts flushed batches and answers durable reporting
// queries that outlive the in-memory buffer.
type MetricRepository struct {
	db *storage.Postgres
}

func NewMetricRepository(db *storage.Postgres) *MetricRepository {
	return &MetricRepository{db: db}
}

// WriteBatch persists one drained generation. It satisfies metrics.Sink.
func (r *MetricRepository) WriteBatch(ctx context.Context, batch []metrics.Metric) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]models.RequestMetric, 0, len(batch))
	for _, m := range batch {
		rows = append(rows, models.RequestMetric{
			Timestamp:      m.Timestamp,
			CallerID:       m.CallerID,
			Tier:           m.Tier,
			Method:         m.Method,
			Endpoint:       m.Endpoint,
			StatusCode:     m.StatusCode,
			ResponseTimeMs: int(m.Millis),
			Provider:       m.Provider,
			BytesOut:       m.Bytes,
			ErrorType:      m.ErrorType,
			IPAddress:      m.IP,
		})
	}

	return r.db.DB.WithContext(ctx).Create(&rows).Error
}

// CountByTimeRange counts persisted metrics in a time range
func (r *MetricRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestMetric{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// GetAverageResponseTime calculates the average latency over a time range
func (r *MetricRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestMetric{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(AVG(response_time_ms), 0)").
		Scan(&avg).Error

	return avg, err
}

// GetTopEndpoints returns the most requested endpoints in a time range
func (r *MetricRepository) GetTopEndpoints(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	var results []map[string]interface{}

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.RequestMetric{}).
		Select("endpoint, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("endpoint").
		Order("count DESC").
		Limit(limit).
		Rows()

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var endpoint string
		var count int64

		if err := rows.Scan(&endpoint, &count); err != nil {
			return nil, err
		}

		results = append(results, map[string]interface{}{
			"endpoint": endpoint,
			"count":    count,
		})
	}

	return results, rows.Err()
}

// FindByCaller retrieves persisted metrics for one caller
func (r *MetricRepository) FindByCaller(ctx context.Context, callerID string, from, to time.Time, limit, offset int) ([]models.RequestMetric, error) {
	var rows []models.RequestMetric

	err := r.db.DB.WithContext(ctx).
		Where("caller_id = ? AND timestamp BETWEEN ? AND ?", callerID, from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error

	return rows, err
}

// DeleteOlderThan removes metrics past the retention period
func (r *MetricRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestMetric{})

	return result.RowsAffected, result.Error
}
