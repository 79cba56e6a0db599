package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transkriptor/backend/internal/history"
	"github.com/transkriptor/backend/internal/transcript"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) history.Store {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateHistory(ctx context.Context, userID, sessionID string, historyType transcript.HistoryType) (*transcript.History, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO history_entries (partition_key, row_key, entity_type, user_id, session_id, history_type, visible)
		 VALUES ($1, $1, 'history', $2, $3, $4, TRUE)
		 RETURNING created_at`,
		id, userID, sessionID, string(historyType))
	var createdAt time.Time
	if err := row.Scan(&createdAt); err != nil {
		return nil, err
	}
	return &transcript.History{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Type:      historyType,
		Timestamp: createdAt,
		Visible:   true,
	}, nil
}

func (s *PostgresStore) AddTranscription(ctx context.Context, historyID string, rec *transcript.Transcription) (bool, error) {
	id := uuid.NewString()
	chunks, err := marshalChunks(rec.Chunks)
	if err != nil {
		return false, err
	}
	// The EXISTS guard makes add-to-absent-history a no-op instead of an
	// orphaned row.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO history_entries (partition_key, row_key, entity_type, file_name, file_name_original,
			language, model, temperature, diarization, combine_channels, analysis, status, transcript_chunks)
		 SELECT $1, $2, 'transcription', $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		 WHERE EXISTS (
			SELECT 1 FROM history_entries WHERE partition_key = $1 AND row_key = $1 AND entity_type = 'history'
		 )`,
		historyID, id, rec.FileName, rec.FileNameOriginal,
		rec.Language, string(rec.Model), rec.Temperature, rec.Diarization, rec.Combine,
		rec.Analysis, string(rec.Status), chunks)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	rec.ID = id
	return true, nil
}

func (s *PostgresStore) UpdateTranscription(ctx context.Context, historyID string, rec transcript.Transcription) (bool, error) {
	if rec.ID == "" {
		return false, history.ErrMissingID
	}
	chunks, err := marshalChunks(rec.Chunks)
	if err != nil {
		return false, err
	}

	err = history.WithConflictRetry(ctx, func() error {
		var version int64
		err := s.pool.QueryRow(ctx,
			`SELECT version FROM history_entries
			 WHERE partition_key = $1 AND row_key = $2 AND entity_type = 'transcription'`,
			historyID, rec.ID).Scan(&version)
		if err != nil {
			if err == pgx.ErrNoRows {
				return errNotFound
			}
			return err
		}

		tag, err := s.pool.Exec(ctx,
			`UPDATE history_entries
			 SET status = $3, transcript_chunks = $4, updated_at = $5, version = version + 1
			 WHERE partition_key = $1 AND row_key = $2 AND entity_type = 'transcription' AND version = $6`,
			historyID, rec.ID, string(rec.Status), chunks, rec.Timestamp, version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return history.ErrConflict
		}
		return nil
	})
	if err != nil {
		if err == errNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) GetHistoryByID(ctx context.Context, id string) (*transcript.History, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT row_key, user_id, session_id, history_type, visible, created_at
		 FROM history_entries WHERE row_key = $1 AND entity_type = 'history'`,
		id)
	h, err := scanHistoryRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadTranscriptions(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *PostgresStore) GetAllHistory(ctx context.Context, visibleOnly bool, limit int) ([]transcript.History, error) {
	query := `SELECT row_key, user_id, session_id, history_type, visible, created_at
		 FROM history_entries WHERE entity_type = 'history'`
	if visibleOnly {
		query += ` AND visible = TRUE`
	}
	query += ` ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []transcript.History
	for rows.Next() {
		h, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *h)
	}
	return list, rows.Err()
}

func (s *PostgresStore) GetUserHistory(ctx context.Context, userID string, visibleOnly bool) ([]transcript.History, error) {
	return s.listPopulated(ctx, `user_id = $1`, userID, visibleOnly)
}

func (s *PostgresStore) GetSessionHistory(ctx context.Context, sessionID string, visibleOnly bool) ([]transcript.History, error) {
	return s.listPopulated(ctx, `session_id = $1`, sessionID, visibleOnly)
}

func (s *PostgresStore) listPopulated(ctx context.Context, filter string, arg string, visibleOnly bool) ([]transcript.History, error) {
	query := fmt.Sprintf(
		`SELECT row_key, user_id, session_id, history_type, visible, created_at
		 FROM history_entries WHERE entity_type = 'history' AND %s`, filter)
	if visibleOnly {
		query += ` AND visible = TRUE`
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []transcript.History
	for rows.Next() {
		h, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		if err := s.loadTranscriptions(ctx, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *PostgresStore) loadTranscriptions(ctx context.Context, h *transcript.History) error {
	rows, err := s.pool.Query(ctx,
		`SELECT row_key, file_name, file_name_original, language, model, temperature,
			diarization, combine_channels, analysis, status, transcript_chunks, updated_at
		 FROM history_entries
		 WHERE partition_key = $1 AND entity_type = 'transcription'
		 ORDER BY created_at ASC`,
		h.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	h.Transcriptions = []transcript.Transcription{}
	for rows.Next() {
		var t transcript.Transcription
		var model, status string
		var chunks []byte
		err := rows.Scan(&t.ID, &t.FileName, &t.FileNameOriginal, &t.Language, &model, &t.Temperature,
			&t.Diarization, &t.Combine, &t.Analysis, &status, &chunks, &t.Timestamp)
		if err != nil {
			return err
		}
		t.Model = transcript.Model(model)
		t.Status = transcript.Status(status)
		if len(chunks) > 0 {
			if err := json.Unmarshal(chunks, &t.Chunks); err != nil {
				return err
			}
		}
		h.Transcriptions = append(h.Transcriptions, t)
	}
	return rows.Err()
}

func (s *PostgresStore) ToggleVisibility(ctx context.Context, id string, visible bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE history_entries SET visible = $2, updated_at = NOW()
		 WHERE row_key = $1 AND entity_type = 'history'`,
		id, visible)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) AttachAnalysis(ctx context.Context, historyID string, transcriptionIndex int, analysis string) (bool, error) {
	if transcriptionIndex < 0 {
		return false, nil
	}
	var rowKey string
	err := s.pool.QueryRow(ctx,
		`SELECT row_key FROM history_entries
		 WHERE partition_key = $1 AND entity_type = 'transcription'
		 ORDER BY created_at ASC OFFSET $2 LIMIT 1`,
		historyID, transcriptionIndex).Scan(&rowKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE history_entries SET analysis = $3, updated_at = NOW()
		 WHERE partition_key = $1 AND row_key = $2`,
		historyID, rowKey, analysis)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func marshalChunks(chunks []transcript.Chunk) ([]byte, error) {
	if chunks == nil {
		chunks = []transcript.Chunk{}
	}
	return json.Marshal(chunks)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryRow(row rowScanner) (*transcript.History, error) {
	var h transcript.History
	var historyType string
	if err := row.Scan(&h.ID, &h.UserID, &h.SessionID, &historyType, &h.Visible, &h.Timestamp); err != nil {
		return nil, err
	}
	h.Type = transcript.HistoryType(historyType)
	return &h, nil
}
