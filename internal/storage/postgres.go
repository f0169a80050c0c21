package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/xaenox/recall-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

const messageColumns = `id, user_id, channel_message_id, modality, raw_ref, extracted_text,
	category_id, tags, entities, embedding, status, error_reason, created_at`

func (s *PostgresStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	entities, err := json.Marshal(msg.Entities)
	if err != nil {
		return fmt.Errorf("error encoding entities: %v", err)
	}

	query := `
		INSERT INTO messages (id, user_id, channel_message_id, modality, raw_ref, extracted_text,
			category_id, tags, entities, embedding, status, error_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.UserID,
		msg.ChannelMessageID,
		msg.Modality,
		msg.RawRef,
		msg.ExtractedText,
		msg.CategoryID,
		pq.Array(nonNilTags(msg.Tags)),
		entities,
		pq.Array(embeddingToFloat64(msg.Embedding)),
		msg.Status,
		msg.ErrorReason,
		msg.CreatedAt,
	)

	if isUniqueViolation(err) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}
	return nil
}

func (s *PostgresStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *PostgresStorage) GetMessageByChannelID(ctx context.Context, userID int64, channelMessageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE user_id = $1 AND channel_message_id = $2`,
		userID, channelMessageID)
	return scanMessage(row)
}

func (s *PostgresStorage) ListMessages(ctx context.Context, userID int64, filter MessageFilter) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE user_id = $1`
	args := []any{userID}

	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		query += fmt.Sprintf(" AND category_id = $%d", len(args))
	}
	if filter.Modality != "" {
		args = append(args, filter.Modality)
		query += fmt.Sprintf(" AND modality = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %v", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStorage) UpdateMessageText(ctx context.Context, id, text string, status models.Status, errorReason string) error {
	return s.execOne(ctx,
		`UPDATE messages SET extracted_text = $1, status = $2, error_reason = $3 WHERE id = $4`,
		text, status, errorReason, id)
}

func (s *PostgresStorage) UpdateMessageCategory(ctx context.Context, id, categoryID string, status models.Status) error {
	return s.execOne(ctx,
		`UPDATE messages SET category_id = $1, status = $2 WHERE id = $3`,
		categoryID, status, id)
}

func (s *PostgresStorage) UpdateMessageTags(ctx context.Context, id string, tags []string, entities []models.Entity) error {
	encoded, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("error encoding entities: %v", err)
	}
	return s.execOne(ctx,
		`UPDATE messages SET tags = $1, entities = $2 WHERE id = $3`,
		pq.Array(nonNilTags(tags)), encoded, id)
}

func (s *PostgresStorage) UpdateMessageEmbedding(ctx context.Context, id string, embedding []float32) error {
	return s.execOne(ctx,
		`UPDATE messages SET embedding = $1 WHERE id = $2`,
		pq.Array(embeddingToFloat64(embedding)), id)
}

func (s *PostgresStorage) CreateCategory(ctx context.Context, category *models.Category) error {
	query := `
		INSERT INTO categories (id, user_id, name, description, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		category.ID,
		category.UserID,
		category.Name,
		category.Description,
		category.ParentID,
		category.CreatedAt,
	)

	if isUniqueViolation(err) {
		return ErrNameConflict
	}
	if err != nil {
		return fmt.Errorf("error creating category: %v", err)
	}
	return nil
}

func (s *PostgresStorage) GetCategory(ctx context.Context, userID int64, id string) (*models.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, parent_id, created_at
		 FROM categories WHERE user_id = $1 AND id = $2`, userID, id)
	return scanCategory(row)
}

func (s *PostgresStorage) GetCategoryByName(ctx context.Context, userID int64, name string) (*models.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, parent_id, created_at
		 FROM categories WHERE user_id = $1 AND lower(name) = lower($2)`, userID, name)
	return scanCategory(row)
}

func (s *PostgresStorage) ListCategories(ctx context.Context, userID int64) ([]*models.Category, error) {
	query := `
		SELECT c.id, c.user_id, c.name, c.description, c.parent_id, c.created_at,
			COUNT(m.id) AS message_count
		FROM categories c
		LEFT JOIN messages m ON m.category_id = c.id
		WHERE c.user_id = $1
		GROUP BY c.id
		ORDER BY lower(c.name)`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying categories: %v", err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		category := &models.Category{}
		var parentID sql.NullString
		err := rows.Scan(
			&category.ID,
			&category.UserID,
			&category.Name,
			&category.Description,
			&parentID,
			&category.CreatedAt,
			&category.MessageCount,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning category: %v", err)
		}
		if parentID.Valid {
			category.ParentID = &parentID.String
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (s *PostgresStorage) RenameCategory(ctx context.Context, userID int64, id, newName string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE categories SET name = $1 WHERE user_id = $2 AND id = $3`,
		newName, userID, id)

	if isUniqueViolation(err) {
		return ErrNameConflict
	}
	if err != nil {
		return fmt.Errorf("error renaming category: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) DeleteCategory(ctx context.Context, userID int64, id, reassignTo string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM categories WHERE user_id = $1 AND id = $2)`,
		userID, reassignTo).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("error checking replacement category: %v", err)
	}
	if !exists {
		return 0, ErrNotFound
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE messages SET category_id = $1 WHERE user_id = $2 AND category_id = $3`,
		reassignTo, userID, id)
	if err != nil {
		return 0, fmt.Errorf("error reassigning messages: %v", err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %v", err)
	}

	result, err = tx.ExecContext(ctx,
		`DELETE FROM categories WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return 0, fmt.Errorf("error deleting category: %v", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %v", err)
	}
	if deleted == 0 {
		return 0, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing transaction: %v", err)
	}
	return moved, nil
}

func (s *PostgresStorage) MergeCategories(ctx context.Context, userID int64, fromID, toID string) (int64, error) {
	return s.DeleteCategory(ctx, userID, fromID, toID)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating message: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var categoryID sql.NullString
	var entities []byte
	var embedding pq.Float64Array

	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msg.ChannelMessageID,
		&msg.Modality,
		&msg.RawRef,
		&msg.ExtractedText,
		&categoryID,
		pq.Array(&msg.Tags),
		&entities,
		&embedding,
		&msg.Status,
		&msg.ErrorReason,
		&msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning message: %v", err)
	}

	if categoryID.Valid {
		msg.CategoryID = &categoryID.String
	}
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &msg.Entities); err != nil {
			return nil, fmt.Errorf("error decoding entities: %v", err)
		}
	}
	msg.Embedding = embeddingToFloat32(embedding)
	return msg, nil
}

func scanCategory(row rowScanner) (*models.Category, error) {
	category := &models.Category{}
	var parentID sql.NullString

	err := row.Scan(
		&category.ID,
		&category.UserID,
		&category.Name,
		&category.Description,
		&parentID,
		&category.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning category: %v", err)
	}

	if parentID.Valid {
		category.ParentID = &parentID.String
	}
	return category, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

// nonNilTags keeps a nil tag slice from binding as SQL NULL against the
// NOT NULL tags column.
func nonNilTags(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func embeddingToFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func embeddingToFloat32(in []float64) []float32 {
	if len(in) == 0 {
		return nil
	}
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
