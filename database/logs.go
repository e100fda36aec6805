package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateImageLog inserts a request row in the processing state.
func (d *DB) CreateImageLog(ctx context.Context, requestID, userID, keyword, targetCompany string) error {
	query := `
		INSERT INTO image_logs (request_id, user_id, keyword, target_company, status)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, query, requestID, userID, keyword, targetCompany, StatusProcessing); err != nil {
		return fmt.Errorf("failed to create image log: %w", err)
	}
	return nil
}

// CompleteImageLog marks a request completed and stores its results.
func (d *DB) CompleteImageLog(ctx context.Context, requestID string, c Completion) error {
	query := `
		UPDATE image_logs SET
			status = ?,
			source_origin = ?, source_url = ?, source_hash = ?, perceptual_hash = ?,
			raw_key = ?, public_id = ?, insurance_type = ?,
			variant_seed = ?, final_url = ?, transform_spec = ?,
			masking_zones = ?, masking_style = ?, variation_params = ?, variants = ?,
			processing_time_ms = ?,
			completed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE request_id = ?
	`
	res, err := d.db.ExecContext(ctx, query,
		StatusCompleted,
		c.SourceOrigin, c.SourceURL, c.SourceHash, c.PerceptualHash,
		c.RawKey, c.PublicID, c.InsuranceType,
		c.VariantSeed, c.FinalURL, c.TransformSpec,
		c.MaskingZones, c.MaskingStyle, c.VariationParams, c.Variants,
		c.ProcessingTimeMS,
		time.Now(),
		requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete image log: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("image log %s not found", requestID)
	}
	return nil
}

// FailImageLog marks a request failed.
func (d *DB) FailImageLog(ctx context.Context, requestID, step, message string, processingTimeMS int64) error {
	query := `
		UPDATE image_logs SET
			status = ?, error_step = ?, error_message = ?, processing_time_ms = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE request_id = ?
	`
	if _, err := d.db.ExecContext(ctx, query, StatusFailed, step, message, processingTimeMS, requestID); err != nil {
		return fmt.Errorf("failed to mark image log failed: %w", err)
	}
	return nil
}

const imageLogColumns = `
	id, request_id, user_id, keyword, target_company, status,
	source_origin, source_url, source_hash, perceptual_hash, raw_key, public_id, insurance_type,
	variant_seed, final_url, transform_spec,
	masking_zones, masking_style, variation_params, variants,
	error_step, error_message, processing_time_ms,
	created_at, completed_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImageLog(row rowScanner) (*ImageLog, error) {
	var l ImageLog
	var (
		sourceOrigin, sourceURL, sourceHash, pHash, rawKey, publicID, insType sql.NullString
		seed, finalURL, spec                                                  sql.NullString
		zonesJSON, styleJSON, paramsJSON, variantsJSON                        sql.NullString
		errStep, errMsg                                                       sql.NullString
		procMS                                                                sql.NullInt64
		completedAt                                                           sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.RequestID, &l.UserID, &l.Keyword, &l.TargetCompany, &l.Status,
		&sourceOrigin, &sourceURL, &sourceHash, &pHash, &rawKey, &publicID, &insType,
		&seed, &finalURL, &spec,
		&zonesJSON, &styleJSON, &paramsJSON, &variantsJSON,
		&errStep, &errMsg, &procMS,
		&l.CreatedAt, &completedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.SourceOrigin = sourceOrigin.String
	l.SourceURL = sourceURL.String
	l.SourceHash = sourceHash.String
	l.PerceptualHash = pHash.String
	l.RawKey = rawKey.String
	l.PublicID = publicID.String
	l.InsuranceType = insType.String
	l.VariantSeed = seed.String
	l.FinalURL = finalURL.String
	l.TransformSpec = spec.String
	l.MaskingZones = zonesJSON.String
	l.MaskingStyle = styleJSON.String
	l.VariationParams = paramsJSON.String
	l.Variants = variantsJSON.String
	l.ErrorStep = errStep.String
	l.ErrorMessage = errMsg.String
	l.ProcessingTimeMS = procMS.Int64
	if completedAt.Valid {
		l.CompletedAt = &completedAt.Time
	}
	return &l, nil
}

// GetImageLog returns the request row, or nil if it does not exist.
func (d *DB) GetImageLog(ctx context.Context, requestID string) (*ImageLog, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+imageLogColumns+` FROM image_logs WHERE request_id = ?`, requestID)
	l, err := scanImageLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image log: %w", err)
	}
	return l, nil
}

// ListImageLogs returns the most recent request rows, newest first. An
// empty status lists every status.
func (d *DB) ListImageLogs(ctx context.Context, status string, limit int) ([]ImageLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + imageLogColumns + ` FROM image_logs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list image logs: %w", err)
	}
	defer rows.Close()

	var logs []ImageLog
	for rows.Next() {
		l, err := scanImageLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}
