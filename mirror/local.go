// mirror/local.go
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ncruces/go-sqlite3"

	"github.com/ViniZap4/thesis-notes/domain"
)

// Local is the on-device copy of an owner's notes, folders, tags and
// associations. Records are keyed by the same ids as the remote store.
type Local struct {
	db *DB
}

func NewLocal(db *DB) *Local {
	return &Local{db: db}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code() == sqlite3.FULL {
		return fmt.Errorf("%w: %v", domain.ErrStorageExhausted, err)
	}
	return err
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ---------- Notes ----------

const noteColumns = `id, owner_id, title, content, html_content, markdown_content, folder_path, tags,
	file_id, file_name, file_type, type, category, note_type, character_count, word_count,
	searchable_text, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*domain.Note, error) {
	var (
		n                    domain.Note
		content              sql.NullString
		tags                 string
		createdAt, updatedAt int64
	)
	err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &content, &n.HTMLContent, &n.MarkdownContent,
		&n.FolderPath, &tags, &n.FileID, &n.FileName, &n.FileType, &n.Type, &n.Category, &n.NoteType,
		&n.CharacterCount, &n.WordCount, &n.SearchableText, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if content.Valid && content.String != "" {
		n.Content = json.RawMessage(content.String)
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of note %s: %w", n.ID, err)
	}
	n.CreatedAt = fromMillis(createdAt)
	n.UpdatedAt = fromMillis(updatedAt)
	return &n, nil
}

func putNote(ctx context.Context, ex execer, n *domain.Note) error {
	tags, err := json.Marshal(append([]string{}, n.Tags...))
	if err != nil {
		return err
	}
	var content sql.NullString
	if len(n.Content) > 0 {
		content = sql.NullString{String: string(n.Content), Valid: true}
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			html_content = excluded.html_content,
			markdown_content = excluded.markdown_content,
			folder_path = excluded.folder_path,
			tags = excluded.tags,
			file_id = excluded.file_id,
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			type = excluded.type,
			category = excluded.category,
			note_type = excluded.note_type,
			character_count = excluded.character_count,
			word_count = excluded.word_count,
			searchable_text = excluded.searchable_text,
			updated_at = excluded.updated_at`,
		n.ID, n.OwnerID, n.Title, content, n.HTMLContent, n.MarkdownContent, n.FolderPath, string(tags),
		n.FileID, n.FileName, n.FileType, string(n.Type), n.Category, n.NoteType, n.CharacterCount, n.WordCount,
		n.SearchableText, millis(n.CreatedAt), millis(n.UpdatedAt))
	return mapErr(err)
}

func (l *Local) PutNote(ctx context.Context, n *domain.Note) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	return putNote(ctx, db, n)
}

func (l *Local) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanNote(db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
}

// ListNotes returns the owner's notes, most recently updated first.
func (l *Local) ListNotes(ctx context.Context, ownerID string) ([]*domain.Note, error) {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE owner_id = ? ORDER BY updated_at DESC, id`, ownerID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, mapErr(rows.Err())
}

func (l *Local) DeleteNote(ctx context.Context, id string) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	return mapErr(err)
}

// ReplaceNotes swaps the owner's local notes for the given set in one
// transaction.
func (l *Local) ReplaceNotes(ctx context.Context, ownerID string, notes []*domain.Note) error {
	return l.replace(ctx, `DELETE FROM notes WHERE owner_id = ?`, ownerID, func(tx *sql.Tx) error {
		for _, n := range notes {
			if n.OwnerID != ownerID {
				continue
			}
			if err := putNote(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Local) replace(ctx context.Context, clear, ownerID string, fill func(tx *sql.Tx) error) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, clear, ownerID); err != nil {
		return mapErr(err)
	}
	if err := fill(tx); err != nil {
		return err
	}
	return mapErr(tx.Commit())
}

// ---------- Folders ----------

const folderColumns = `id, owner_id, name, path, level, parent_path, notes_count, created_at, updated_at`

func scanFolder(row scanner) (*domain.Folder, error) {
	var (
		f                    domain.Folder
		parent               sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Path, &f.Level, &parent, &f.NotesCount, &createdAt, &updatedAt); err != nil {
		return nil, mapErr(err)
	}
	if parent.Valid {
		f.ParentPath = &parent.String
	}
	f.CreatedAt = fromMillis(createdAt)
	f.UpdatedAt = fromMillis(updatedAt)
	return &f, nil
}

func putFolder(ctx context.Context, ex execer, f *domain.Folder) error {
	var parent sql.NullString
	if f.ParentPath != nil {
		parent = sql.NullString{String: *f.ParentPath, Valid: true}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO folders (`+folderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			level = excluded.level,
			parent_path = excluded.parent_path,
			notes_count = excluded.notes_count,
			updated_at = excluded.updated_at`,
		f.ID, f.OwnerID, f.Name, f.Path, f.Level, parent, f.NotesCount, millis(f.CreatedAt), millis(f.UpdatedAt))
	return mapErr(err)
}

func (l *Local) PutFolder(ctx context.Context, f *domain.Folder) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	return putFolder(ctx, db, f)
}

func (l *Local) GetFolder(ctx context.Context, ownerID, path string) (*domain.Folder, error) {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanFolder(db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE owner_id = ? AND path = ?`, ownerID, path))
}

func (l *Local) ListFolders(ctx context.Context, ownerID string) ([]*domain.Folder, error) {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE owner_id = ? ORDER BY path`, ownerID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var folders []*domain.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, mapErr(rows.Err())
}

func (l *Local) DeleteFolder(ctx context.Context, id string) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	return mapErr(err)
}

func (l *Local) ReplaceFolders(ctx context.Context, ownerID string, folders []*domain.Folder) error {
	return l.replace(ctx, `DELETE FROM folders WHERE owner_id = ?`, ownerID, func(tx *sql.Tx) error {
		for _, f := range folders {
			if err := putFolder(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---------- Tags ----------

func putTag(ctx context.Context, ex execer, t *domain.Tag) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO tags (id, owner_id, name, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			usage_count = excluded.usage_count`,
		t.ID, t.OwnerID, t.Name, t.UsageCount, millis(t.CreatedAt))
	return mapErr(err)
}

func (l *Local) PutTag(ctx context.Context, t *domain.Tag) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	return putTag(ctx, db, t)
}

func (l *Local) ListTags(ctx context.Context, ownerID string) ([]*domain.Tag, error) {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, owner_id, name, usage_count, created_at FROM tags WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var tags []*domain.Tag
	for rows.Next() {
		var (
			t         domain.Tag
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name, &t.UsageCount, &createdAt); err != nil {
			return nil, mapErr(err)
		}
		t.CreatedAt = fromMillis(createdAt)
		tags = append(tags, &t)
	}
	return tags, mapErr(rows.Err())
}

func (l *Local) DeleteTag(ctx context.Context, id string) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	return mapErr(err)
}

func (l *Local) ReplaceTags(ctx context.Context, ownerID string, tags []*domain.Tag) error {
	return l.replace(ctx, `DELETE FROM tags WHERE owner_id = ?`, ownerID, func(tx *sql.Tx) error {
		for _, t := range tags {
			if err := putTag(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---------- Associations ----------

const associationColumns = `id, note_id, pdf_id, user_id, metadata, created_at, last_modified`

func scanAssociation(row scanner) (*domain.Association, error) {
	var (
		a                      domain.Association
		metadata               string
		createdAt, lastChanged int64
	)
	if err := row.Scan(&a.ID, &a.NoteID, &a.PDFID, &a.UserID, &metadata, &createdAt, &lastChanged); err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of association %s: %w", a.ID, err)
	}
	if len(a.Metadata) == 0 {
		a.Metadata = nil
	}
	a.CreatedAt = fromMillis(createdAt)
	a.LastModified = fromMillis(lastChanged)
	return &a, nil
}

func (l *Local) queryAssociations(ctx context.Context, where string, arg any) ([]*domain.Association, error) {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+associationColumns+` FROM associations WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}

func putAssociation(ctx context.Context, ex execer, a *domain.Association) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	if a.Metadata == nil {
		metadata = []byte("{}")
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO associations (`+associationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			note_id = excluded.note_id,
			pdf_id = excluded.pdf_id,
			metadata = excluded.metadata,
			last_modified = excluded.last_modified`,
		a.ID, a.NoteID, a.PDFID, a.UserID, string(metadata), millis(a.CreatedAt), millis(a.LastModified))
	return mapErr(err)
}

func (l *Local) PutAssociation(ctx context.Context, a *domain.Association) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	return putAssociation(ctx, db, a)
}

func (l *Local) GetAssociation(ctx context.Context, id string) (*domain.Association, error) {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanAssociation(db.QueryRowContext(ctx, `SELECT `+associationColumns+` FROM associations WHERE id = ?`, id))
}

// GetAssociationByNoteID returns the note's association. A note has at most
// one; if duplicates slipped in, the oldest wins.
func (l *Local) GetAssociationByNoteID(ctx context.Context, noteID string) (*domain.Association, error) {
	list, err := l.queryAssociations(ctx, `note_id = ?`, noteID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return list[0], nil
}

func (l *Local) ListAssociationsByPDFID(ctx context.Context, pdfID string) ([]*domain.Association, error) {
	return l.queryAssociations(ctx, `pdf_id = ?`, pdfID)
}

func (l *Local) ListAssociationsByUser(ctx context.Context, userID string) ([]*domain.Association, error) {
	return l.queryAssociations(ctx, `user_id = ?`, userID)
}

func (l *Local) DeleteAssociation(ctx context.Context, id string) error {
	db, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM associations WHERE id = ?`, id)
	return mapErr(err)
}

// ReplaceAssociations swaps the user's local associations for list in one
// transaction; on failure the previous rows stay.
func (l *Local) ReplaceAssociations(ctx context.Context, userID string, list []*domain.Association) error {
	return l.replace(ctx, `DELETE FROM associations WHERE user_id = ?`, userID, func(tx *sql.Tx) error {
		for _, a := range list {
			if err := putAssociation(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}
