package database

import (
	"context"
	"time"
)

// RequestCountBetween returns the total request count and distinct address
// count inside [from, to).
func (db *DB) RequestCountBetween(ctx context.Context, from, to time.Time) (total, unique int64, err error) {
	err = db.Pool.QueryRow(ctx, `
		SELECT count(*), count(DISTINCT ip_address) FROM access_logs
		WHERE timestamp >= $1 AND timestamp < $2;
	`, from, to).Scan(&total, &unique)
	return total, unique, err
}

// StatusHistogramBetween buckets requests inside [from, to) by status code.
func (db *DB) StatusHistogramBetween(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT status_code::text, count(*) FROM access_logs
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY status_code;
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histogram := make(map[string]int64)
	for rows.Next() {
		var code string
		var count int64
		if err := rows.Scan(&code, &count); err != nil {
			return nil, err
		}
		histogram[code] = count
	}
	return histogram, rows.Err()
}

// TopPathsBetween returns the most requested paths inside [from, to).
func (db *DB) TopPathsBetween(ctx context.Context, from, to time.Time, limit int) ([]PathCount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT path, count(*) AS hits FROM access_logs
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY path
		ORDER BY hits DESC, path
		LIMIT $3;
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make([]PathCount, 0, limit)
	for rows.Next() {
		var entry PathCount
		if err := rows.Scan(&entry.Path, &entry.Count); err != nil {
			return nil, err
		}
		paths = append(paths, entry)
	}
	return paths, rows.Err()
}

// DurationsBetween returns the recorded request durations inside [from, to).
// Logs ingested without timing data are skipped.
func (db *DB) DurationsBetween(ctx context.Context, from, to time.Time) ([]float64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT duration FROM access_logs
		WHERE timestamp >= $1 AND timestamp < $2 AND duration IS NOT NULL;
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	durations := make([]float64, 0)
	for rows.Next() {
		var duration float64
		if err := rows.Scan(&duration); err != nil {
			return nil, err
		}
		durations = append(durations, duration)
	}
	return durations, rows.Err()
}

// CountThreatsBetween counts threat events recorded inside [from, to).
func (db *DB) CountThreatsBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM threat_events
		WHERE timestamp >= $1 AND timestamp < $2;
	`, from, to).Scan(&count)
	return count, err
}

// CountBansBetween counts bans applied inside [from, to).
func (db *DB) CountBansBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM ban_records
		WHERE banned_at >= $1 AND banned_at < $2;
	`, from, to).Scan(&count)
	return count, err
}

// InsertStatistic stores one aggregated period. Re-running an aggregation for
// the same period overwrites the prior row.
func (db *DB) InsertStatistic(ctx context.Context, stat *Statistic) error {
	statusCodes, err := marshalJSONColumn(stat.StatusCodes)
	if err != nil {
		return err
	}
	topPaths, err := marshalJSONColumn(stat.TopPaths)
	if err != nil {
		return err
	}

	err = db.Pool.QueryRow(ctx, `
		INSERT INTO statistics
			(period_start, total_requests, unique_addresses, threats_detected,
			 bans_applied, status_codes, top_paths, duration_mean, duration_median, duration_p95)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (period_start) DO UPDATE SET
			total_requests = EXCLUDED.total_requests,
			unique_addresses = EXCLUDED.unique_addresses,
			threats_detected = EXCLUDED.threats_detected,
			bans_applied = EXCLUDED.bans_applied,
			status_codes = EXCLUDED.status_codes,
			top_paths = EXCLUDED.top_paths,
			duration_mean = EXCLUDED.duration_mean,
			duration_median = EXCLUDED.duration_median,
			duration_p95 = EXCLUDED.duration_p95
		RETURNING id;
	`, stat.PeriodStart, stat.TotalRequests, stat.UniqueAddresses, stat.ThreatsDetected,
		stat.BansApplied, statusCodes, topPaths, stat.DurationMean, stat.DurationMedian, stat.DurationP95).Scan(&stat.ID)
	return err
}

// RecentStatistics returns the latest aggregated periods, newest first.
func (db *DB) RecentStatistics(ctx context.Context, limit int) ([]Statistic, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, period_start, total_requests, unique_addresses, threats_detected,
		       bans_applied, status_codes, top_paths, duration_mean, duration_median, duration_p95
		FROM statistics
		ORDER BY period_start DESC
		LIMIT $1;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]Statistic, 0, limit)
	for rows.Next() {
		var stat Statistic
		var statusCodes, topPaths []byte
		err = rows.Scan(
			&stat.ID, &stat.PeriodStart, &stat.TotalRequests, &stat.UniqueAddresses,
			&stat.ThreatsDetected, &stat.BansApplied, &statusCodes, &topPaths,
			&stat.DurationMean, &stat.DurationMedian, &stat.DurationP95,
		)
		if err != nil {
			return nil, err
		}
		if err := unmarshalJSONColumn(statusCodes, &stat.StatusCodes); err != nil {
			return nil, err
		}
		if err := unmarshalJSONColumn(topPaths, &stat.TopPaths); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}
