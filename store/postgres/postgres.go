// store/postgres/postgres.go
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const notesChannel = "notes_changed"

type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects the pool and applies pending migrations.
func Open(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", classify(err))
	}
	return &Store{pool: pool, log: log.With().Str("component", "postgres").Logger()}, nil
}

func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a libpq URL to the scheme of migrate's pgx/v5 driver.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

func (s *Store) Close() {
	s.pool.Close()
}

const noteColumns = `id, owner_id, title, content, html_content, markdown_content, folder_path, tags,
	file_id, file_name, file_type, type, category, note_type, character_count, word_count,
	searchable_text, created_at, updated_at`

func scanNote(row pgx.Row) (*domain.Note, error) {
	n := &domain.Note{}
	var content []byte
	var typ string
	err := row.Scan(
		&n.ID, &n.OwnerID, &n.Title, &content, &n.HTMLContent, &n.MarkdownContent, &n.FolderPath, &n.Tags,
		&n.FileID, &n.FileName, &n.FileType, &typ, &n.Category, &n.NoteType, &n.CharacterCount, &n.WordCount,
		&n.SearchableText, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		n.Content = json.RawMessage(content)
	}
	n.Type = domain.NoteType(typ)
	return n, nil
}

func (s *Store) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	n, err := scanNote(s.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err)
	}
	return n, nil
}

func (s *Store) ListNotes(ctx context.Context, q store.NoteQuery) ([]*domain.Note, error) {
	sql, args := buildNoteQuery(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, classify(err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return notes, nil
}

func buildNoteQuery(q store.NoteQuery) (string, []any) {
	sql := `SELECT ` + noteColumns + ` FROM notes WHERE owner_id = $1`
	args := []any{q.OwnerID}

	if q.FolderPath != "" {
		args = append(args, q.FolderPath)
		sql += fmt.Sprintf(" AND folder_path = $%d", len(args))
	}
	if q.FileID != "" {
		args = append(args, q.FileID)
		sql += fmt.Sprintf(" AND file_id = $%d", len(args))
	}
	if q.Type != "" {
		args = append(args, string(q.Type))
		sql += fmt.Sprintf(" AND type = $%d", len(args))
	}
	sql += " ORDER BY updated_at DESC, id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return sql, args
}

const upsertNote = `
	INSERT INTO notes (` + noteColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		html_content = EXCLUDED.html_content,
		markdown_content = EXCLUDED.markdown_content,
		folder_path = EXCLUDED.folder_path,
		tags = EXCLUDED.tags,
		file_id = EXCLUDED.file_id,
		file_name = EXCLUDED.file_name,
		file_type = EXCLUDED.file_type,
		type = EXCLUDED.type,
		category = EXCLUDED.category,
		note_type = EXCLUDED.note_type,
		character_count = EXCLUDED.character_count,
		word_count = EXCLUDED.word_count,
		searchable_text = EXCLUDED.searchable_text,
		updated_at = EXCLUDED.updated_at`

func noteArgs(n *domain.Note) []any {
	var content any
	if len(n.Content) > 0 {
		content = string(n.Content)
	}
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		n.ID, n.OwnerID, n.Title, content, n.HTMLContent, n.MarkdownContent, n.FolderPath, tags,
		n.FileID, n.FileName, n.FileType, string(n.Type), n.Category, n.NoteType, n.CharacterCount, n.WordCount,
		n.SearchableText, n.CreatedAt, n.UpdatedAt,
	}
}

func (s *Store) PutNote(ctx context.Context, n *domain.Note) error {
	if _, err := s.pool.Exec(ctx, upsertNote, noteArgs(n)...); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id); err != nil {
		return classify(err)
	}
	return nil
}

const folderColumns = `id, owner_id, name, path, level, parent_path, notes_count, created_at, updated_at`

func scanFolder(row pgx.Row) (*domain.Folder, error) {
	f := &domain.Folder{}
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Path, &f.Level, &f.ParentPath, &f.NotesCount, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) GetFolder(ctx context.Context, ownerID, path string) (*domain.Folder, error) {
	f, err := scanFolder(s.pool.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE owner_id = $1 AND path = $2`, ownerID, path))
	if err != nil {
		return nil, classify(err)
	}
	return f, nil
}

func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]*domain.Folder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+folderColumns+` FROM folders WHERE owner_id = $1 ORDER BY path`, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var folders []*domain.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, classify(err)
		}
		folders = append(folders, f)
	}
	return folders, classify(rows.Err())
}

func (s *Store) CreateFolder(ctx context.Context, f *domain.Folder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO folders (`+folderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.OwnerID, f.Name, f.Path, f.Level, f.ParentPath, f.NotesCount, f.CreatedAt, f.UpdatedAt,
	)
	return classify(err)
}

const adjustFolder = `
	UPDATE folders SET notes_count = GREATEST(notes_count + $3, 0), updated_at = now()
	WHERE owner_id = $1 AND path = $2`

func (s *Store) AdjustFolderCount(ctx context.Context, ownerID, path string, delta int) error {
	_, err := s.pool.Exec(ctx, adjustFolder, ownerID, path, delta)
	return classify(err)
}

func (s *Store) GetTag(ctx context.Context, ownerID, name string) (*domain.Tag, error) {
	t := &domain.Tag{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, usage_count, created_at FROM tags WHERE owner_id = $1 AND name = $2`,
		ownerID, name,
	).Scan(&t.ID, &t.OwnerID, &t.Name, &t.UsageCount, &t.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (s *Store) ListTags(ctx context.Context, ownerID string) ([]*domain.Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, usage_count, created_at FROM tags WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var tags []*domain.Tag
	for rows.Next() {
		t := &domain.Tag{}
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name, &t.UsageCount, &t.CreatedAt); err != nil {
			return nil, classify(err)
		}
		tags = append(tags, t)
	}
	return tags, classify(rows.Err())
}

func (s *Store) CreateTag(ctx context.Context, t *domain.Tag) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tags (id, owner_id, name, usage_count, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.OwnerID, t.Name, t.UsageCount, t.CreatedAt,
	)
	return classify(err)
}

func (s *Store) AdjustTagUsage(ctx context.Context, ownerID, name string, delta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tags SET usage_count = GREATEST(usage_count + $3, 0) WHERE owner_id = $1 AND name = $2`,
		ownerID, name, delta,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const assocColumns = `id, note_id, pdf_id, user_id, created_at, last_modified, metadata`

func scanAssociation(row pgx.Row) (*domain.Association, error) {
	a := &domain.Association{}
	var meta []byte
	if err := row.Scan(&a.ID, &a.NoteID, &a.PDFID, &a.UserID, &a.CreatedAt, &a.LastModified, &meta); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, domain.PermanentError(fmt.Errorf("failed to decode association metadata: %w", err))
		}
	}
	return a, nil
}

func (s *Store) GetAssociation(ctx context.Context, id string) (*domain.Association, error) {
	a, err := scanAssociation(s.pool.QueryRow(ctx, `SELECT `+assocColumns+` FROM associations WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err)
	}
	return a, nil
}

func (s *Store) ListAssociations(ctx context.Context, q store.AssociationQuery) ([]*domain.Association, error) {
	sql := `SELECT ` + assocColumns + ` FROM associations WHERE true`
	var args []any
	for _, c := range []struct{ col, val string }{{"note_id", q.NoteID}, {"pdf_id", q.PDFID}, {"user_id", q.UserID}} {
		if c.val == "" {
			continue
		}
		args = append(args, c.val)
		sql += fmt.Sprintf(" AND %s = $%d", c.col, len(args))
	}
	sql += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

func (s *Store) PutAssociation(ctx context.Context, a *domain.Association) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return domain.Validationf("association metadata: %v", err)
	}
	if a.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO associations (`+assocColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			note_id = EXCLUDED.note_id,
			pdf_id = EXCLUDED.pdf_id,
			last_modified = EXCLUDED.last_modified,
			metadata = EXCLUDED.metadata`,
		a.ID, a.NoteID, a.PDFID, a.UserID, a.CreatedAt, a.LastModified, string(meta),
	)
	return classify(err)
}

func (s *Store) DeleteAssociation(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM associations WHERE id = $1`, id)
	return classify(err)
}

// Commit sends the batch inside one transaction.
func (s *Store) Commit(ctx context.Context, b *store.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, op := range b.Ops() {
			switch op.Kind {
			case store.OpPutNote:
				batch.Queue(upsertNote, noteArgs(op.Note)...)
			case store.OpDeleteFolder:
				batch.Queue(`DELETE FROM folders WHERE owner_id = $1 AND path = $2`, op.OwnerID, op.Path)
			case store.OpDeleteTag:
				batch.Queue(`DELETE FROM tags WHERE owner_id = $1 AND name = $2`, op.OwnerID, op.Name)
			case store.OpAdjustFolderCount:
				batch.Queue(adjustFolder, op.OwnerID, op.Path, op.Delta)
			default:
				return domain.Validationf("unknown batch operation %d", op.Kind)
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return classify(err)
}
