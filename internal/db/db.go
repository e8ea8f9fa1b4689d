package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"blog_migrator/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Database инкапсулирует пул соединений к PostgreSQL.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDB создаёт новый пул соединений по connString и возвращает Database.
func NewDB(ctx context.Context, connString string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Database{Pool: pool}, nil
}

// Close закрывает пул соединений.
func (db *Database) Close() {
	db.Pool.Close()
}

func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate создаёт таблицы, если их ещё нет.
func (db *Database) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateSource сохраняет источник. Повторный URL даёт ошибку валидации.
func (db *Database) CreateSource(ctx context.Context, src *models.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	err := db.Pool.QueryRow(ctx, `
        INSERT INTO sources (id, url, name)
        VALUES ($1, $2, $3)
        RETURNING created_at
    `, src.ID, src.URL, src.Name).Scan(&src.CreatedAt)
	if isUniqueViolation(err) {
		return models.Errorf(models.KindValidation, "create source", "source %s already exists", src.URL)
	}
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	return nil
}

func (db *Database) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	err := db.Pool.QueryRow(ctx, `
        SELECT s.id, s.url, s.name, s.created_at, (SELECT COUNT(*) FROM posts p WHERE p.source_id = s.id)
        FROM sources s
        WHERE s.id = $1
    `, id).Scan(&src.ID, &src.URL, &src.Name, &src.CreatedAt, &src.PostCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &src, nil
}

// ListSources возвращает источники с числом постов, новые первыми.
func (db *Database) ListSources(ctx context.Context) ([]models.Source, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT s.id, s.url, s.name, s.created_at, COUNT(p.id)
        FROM sources s
        LEFT JOIN posts p ON p.source_id = s.id
        GROUP BY s.id
        ORDER BY s.created_at DESC, s.id
    `)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.URL, &src.Name, &src.CreatedAt, &src.PostCount); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// DeleteSource удаляет источник; посты удаляются каскадно.
func (db *Database) DeleteSource(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CreatePost сохраняет извлечённый пост. Если пост с таким source_url
// у источника уже есть, операция игнорируется и возвращается false.
func (db *Database) CreatePost(ctx context.Context, post *models.Post) (bool, error) {
	if post.SourceID == "" {
		return false, models.Errorf(models.KindValidation, "create post", "post %s has no source", post.SourceURL)
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.Status == "" {
		post.Status = models.StatusExtracted
	}
	err := db.Pool.QueryRow(ctx, `
        INSERT INTO posts (id, source_id, title, content, source_url, images, tags, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (source_id, source_url) DO NOTHING
        RETURNING created_at, updated_at
    `, post.ID, post.SourceID, post.Title, post.Content, post.SourceURL,
		nonNil(post.Images), nonNil(post.Tags), string(post.Status)).Scan(&post.CreatedAt, &post.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if pgCode(err) == foreignKeyViolation {
		return false, models.Errorf(models.KindValidation, "create post", "source %s does not exist", post.SourceID)
	}
	if err != nil {
		return false, fmt.Errorf("create post: %w", err)
	}
	return true, nil
}

const postColumns = `p.id, p.source_id, COALESCE(s.name, ''), p.title, p.content, p.source_url,
        p.rewritten_title, p.rewritten_content, p.meta_description, p.images, p.tags, p.suggested_tags,
        p.status, p.scheduled_time, p.published_url, p.publish_confidence, p.config_id, p.attempts,
        p.failed_stage, p.last_error, p.last_error_kind, p.created_at, p.updated_at`

func (db *Database) GetPost(ctx context.Context, id string) (*models.Post, error) {
	row := db.Pool.QueryRow(ctx, `
        SELECT `+postColumns+`
        FROM posts p
        LEFT JOIN sources s ON s.id = p.source_id
        WHERE p.id = $1
    `, id)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// ListPosts возвращает посты по фильтру, старые первыми.
func (db *Database) ListPosts(ctx context.Context, filter models.PostFilter) ([]models.Post, error) {
	var (
		where []string
		args  []any
	)
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		where = append(where, fmt.Sprintf("p.source_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("p.status = $%d", len(args)))
	}
	query := `SELECT ` + postColumns + ` FROM posts p LEFT JOIN sources s ON s.id = p.source_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.created_at, p.id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return db.queryPosts(ctx, query, args...)
}

func (db *Database) GetPostsByStatus(ctx context.Context, status models.Status) ([]models.Post, error) {
	return db.ListPosts(ctx, models.PostFilter{Status: status})
}

// GetDuePosts возвращает запланированные посты, время которых пришло.
func (db *Database) GetDuePosts(ctx context.Context, now time.Time) ([]models.Post, error) {
	return db.queryPosts(ctx, `
        SELECT `+postColumns+`
        FROM posts p
        LEFT JOIN sources s ON s.id = p.source_id
        WHERE p.status = 'scheduled' AND p.scheduled_time <= $1
        ORDER BY p.scheduled_time, p.created_at, p.id
    `, now)
}

// RecentPosts последние изменённые посты с именами источников.
// limit <= 0 снимает ограничение, как и в ListPosts.
func (db *Database) RecentPosts(ctx context.Context, limit int) ([]models.Post, error) {
	query := `
        SELECT ` + postColumns + `
        FROM posts p
        LEFT JOIN sources s ON s.id = p.source_id
        ORDER BY p.updated_at DESC, p.id`
	if limit <= 0 {
		return db.queryPosts(ctx, query)
	}
	return db.queryPosts(ctx, query+" LIMIT $1", limit)
}

// ListSourceURLs множество уже сохранённых URL источника.
func (db *Database) ListSourceURLs(ctx context.Context, sourceID string) (map[string]bool, error) {
	rows, err := db.Pool.Query(ctx, `SELECT source_url FROM posts WHERE source_id = $1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list source urls: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan source url: %w", err)
		}
		urls[u] = true
	}
	return urls, rows.Err()
}

// UpdatePost применяет u, только если пост всё ещё в статусе expected.
// Иначе возвращает models.ErrStateConflict.
func (db *Database) UpdatePost(ctx context.Context, id string, expected models.Status, u models.PostUpdate) (*models.Post, error) {
	sets := []string{"updated_at = GREATEST(now(), updated_at + interval '1 microsecond')"}
	args := []any{id, string(expected)}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != "" {
		set("status", string(u.Status))
	}
	if u.RewrittenTitle != nil {
		set("rewritten_title", *u.RewrittenTitle)
	}
	if u.RewrittenContent != nil {
		set("rewritten_content", *u.RewrittenContent)
	}
	if u.MetaDescription != nil {
		set("meta_description", *u.MetaDescription)
	}
	if u.SuggestedTags != nil {
		set("suggested_tags", u.SuggestedTags)
	}
	if u.ClearSchedule {
		sets = append(sets, "scheduled_time = NULL")
	} else if u.ScheduledTime != nil {
		set("scheduled_time", *u.ScheduledTime)
	}
	if u.PublishedURL != nil {
		set("published_url", *u.PublishedURL)
	}
	if u.Confidence != nil {
		set("publish_confidence", string(*u.Confidence))
	}
	if u.ConfigID != nil {
		set("config_id", *u.ConfigID)
	}
	if u.Attempts != nil {
		set("attempts", *u.Attempts)
	}
	if u.FailedStage != nil {
		set("failed_stage", string(*u.FailedStage))
	}
	if u.LastError != nil {
		set("last_error", *u.LastError)
	}
	if u.LastErrorKind != nil {
		set("last_error_kind", string(*u.LastErrorKind))
	}

	row := db.Pool.QueryRow(ctx, `
        WITH p AS (
            UPDATE posts SET `+strings.Join(sets, ", ")+`
            WHERE id = $1 AND status = $2
            RETURNING *
        )
        SELECT `+postColumns+`
        FROM p
        LEFT JOIN sources s ON s.id = p.source_id
    `, args...)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("update post: %w", err)
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrStateConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return post, nil
}

func (db *Database) DeletePost(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Statistics считает источники и посты по статусам.
func (db *Database) Statistics(ctx context.Context) (models.Statistics, error) {
	var stats models.Statistics
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM sources`).Scan(&stats.TotalSources); err != nil {
		return stats, fmt.Errorf("count sources: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM posts GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count posts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan post count: %w", err)
		}
		stats.Count(models.Status(status), n)
	}
	return stats, rows.Err()
}

// ClearAll удаляет все посты и источники.
func (db *Database) ClearAll(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, `TRUNCATE TABLE posts, sources`); err != nil {
		return fmt.Errorf("clear data: %w", err)
	}
	return nil
}

func (db *Database) queryPosts(ctx context.Context, query string, args ...any) ([]models.Post, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p                                      models.Post
		status, confidence, stage, lastErrKind string
	)
	err := row.Scan(&p.ID, &p.SourceID, &p.SourceName, &p.Title, &p.Content, &p.SourceURL,
		&p.RewrittenTitle, &p.RewrittenContent, &p.MetaDescription, &p.Images, &p.Tags, &p.SuggestedTags,
		&status, &p.ScheduledTime, &p.PublishedURL, &confidence, &p.ConfigID, &p.Attempts,
		&stage, &p.LastError, &lastErrKind, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.Status(status)
	p.Confidence = models.PublishConfidence(confidence)
	p.FailedStage = models.Stage(stage)
	p.LastErrorKind = models.ErrorKind(lastErrKind)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == uniqueViolation
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
