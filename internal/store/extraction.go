package store

import (
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/jward/pinpoint/internal/pin"
)

// --- File operations ---

func (s *Store) InsertFile(f *File) (int64, error) {
	return insertFileTx(s.db, f)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertFileTx(ex execer, f *File) (int64, error) {
	res, err := ex.Exec(
		"INSERT INTO files (path, hash, text, last_indexed) VALUES (?, ?, ?, ?)",
		f.Path, f.Hash, f.Text, f.LastIndexed,
	)
	if err != nil {
		return 0, errors.Wrap(err, "insert file")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "last insert id")
	}
	f.ID = id
	return id, nil
}

func (s *Store) FileByPath(path string) (*File, error) {
	f := &File{}
	err := s.db.QueryRow(
		"SELECT id, path, hash, text, last_indexed FROM files WHERE path = ?", path,
	).Scan(&f.ID, &f.Path, &f.Hash, &f.Text, &f.LastIndexed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "file by path")
	}
	return f, nil
}

// Files returns every merged file ordered by path.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT id, path, hash, text, last_indexed FROM files ORDER BY path")
	if err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f := &File{}
		if err := rows.Scan(&f.ID, &f.Path, &f.Hash, &f.Text, &f.LastIndexed); err != nil {
			return nil, errors.Wrap(err, "scan file")
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ReplaceFile atomically swaps whatever is stored for f.Path with f and its
// pins. f.ID is set to the new row ID.
func (s *Store) ReplaceFile(f *File, pins []*pin.Pin) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	id, err := replaceFileTx(tx, f, pins)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return id, nil
}

func replaceFileTx(tx *sql.Tx, f *File, pins []*pin.Pin) (int64, error) {
	var oldID int64
	err := tx.QueryRow("SELECT id FROM files WHERE path = ?", f.Path).Scan(&oldID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, errors.Wrap(err, "lookup file")
	default:
		if err := deleteFileTx(tx, oldID); err != nil {
			return 0, err
		}
	}

	id, err := insertFileTx(tx, f)
	if err != nil {
		return 0, err
	}
	if err := insertPinsTx(tx, id, pins); err != nil {
		return 0, errors.Wrapf(err, "pins for %s", f.Path)
	}
	return id, nil
}

// --- Pin operations ---

// InsertPins stores pins for fileID in one transaction. Context links
// between pins of the same batch are preserved.
func (s *Store) InsertPins(fileID int64, pins []*pin.Pin) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()
	if err := insertPinsTx(tx, fileID, pins); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPinsTx(tx *sql.Tx, fileID int64, pins []*pin.Pin) error {
	ids := make(map[*pin.Pin]int64, len(pins))
	var deferred []*pin.Pin

	for _, p := range pins {
		if p.Kind == pin.Virtual {
			continue
		}
		var contextID *int64
		if p.Context != nil {
			if id, ok := ids[p.Context]; ok {
				contextID = &id
			} else {
				deferred = append(deferred, p)
			}
		}
		res, err := tx.Exec(
			`INSERT INTO pins (file_id, kind, name, namespace, path, return_type, scope, visibility,
				docstring, start_line, start_col, end_line, end_col, signature, nil_assigned,
				context_pin_id, receiver, param_index, superclass, includes, extends, parameters)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, p.Kind.String(), p.Name, p.Namespace, p.Path, p.ReturnType,
			p.Scope.String(), p.Visibility.String(), p.Docstring.Raw,
			p.Location.StartLine, p.Location.StartCol, p.Location.EndLine, p.Location.EndCol,
			p.Signature, p.NilAssigned, contextID, p.Receiver, p.Index, p.Superclass,
			marshalStrings(p.Includes), marshalStrings(p.Extends), marshalStrings(p.Parameters),
		)
		if err != nil {
			return errors.Wrapf(err, "insert pin %q", p.Name)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "last insert id")
		}
		ids[p] = id
	}

	// Contexts that appeared after their children.
	for _, p := range deferred {
		contextID, ok := ids[p.Context]
		if !ok {
			continue
		}
		if _, err := tx.Exec("UPDATE pins SET context_pin_id = ? WHERE id = ?", contextID, ids[p]); err != nil {
			return errors.Wrapf(err, "link pin %q", p.Name)
		}
	}
	return nil
}

const pinColumns = `p.id, f.path, p.kind, p.name, p.namespace, p.path, p.return_type, p.scope,
	p.visibility, p.docstring, p.start_line, p.start_col, p.end_line, p.end_col, p.signature,
	p.nil_assigned, p.context_pin_id, p.receiver, p.param_index, p.superclass,
	p.includes, p.extends, p.parameters`

// scanPin reads one row selected with pinColumns. The context ID is
// returned separately for relinking.
func scanPin(scanner interface{ Scan(...any) error }) (int64, *pin.Pin, sql.NullInt64, error) {
	var (
		id                        int64
		kind, scope, vis, doc     string
		includes, extends, params string
		contextID                 sql.NullInt64
	)
	p := &pin.Pin{}
	err := scanner.Scan(&id, &p.Location.Filename, &kind, &p.Name, &p.Namespace, &p.Path,
		&p.ReturnType, &scope, &vis, &doc,
		&p.Location.StartLine, &p.Location.StartCol, &p.Location.EndLine, &p.Location.EndCol,
		&p.Signature, &p.NilAssigned, &contextID, &p.Receiver, &p.Index, &p.Superclass,
		&includes, &extends, &params)
	if err != nil {
		return 0, nil, contextID, err
	}
	k, ok := pin.ParseKind(kind)
	if !ok {
		return 0, nil, contextID, errors.Newf("unknown pin kind %q", kind)
	}
	p.Kind = k
	p.Scope = pin.ParseScope(scope)
	p.Visibility = pin.ParseVisibility(vis)
	p.Docstring = pin.ParseDocstring(doc)
	p.Includes = unmarshalStrings(includes)
	p.Extends = unmarshalStrings(extends)
	p.Parameters = unmarshalStrings(params)
	return id, p, contextID, nil
}

// PinsByFile returns the pins of one file in insertion order with their
// Context links restored.
func (s *Store) PinsByFile(fileID int64) ([]*pin.Pin, error) {
	rows, err := s.db.Query(
		"SELECT "+pinColumns+" FROM pins p JOIN files f ON f.id = p.file_id WHERE p.file_id = ? ORDER BY p.id",
		fileID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "pins by file")
	}
	defer rows.Close()

	byID := make(map[int64]*pin.Pin)
	contexts := make(map[*pin.Pin]int64)
	var pins []*pin.Pin
	for rows.Next() {
		id, p, contextID, err := scanPin(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan pin")
		}
		byID[id] = p
		if contextID.Valid {
			contexts[p] = contextID.Int64
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for p, cid := range contexts {
		p.Context = byID[cid]
	}
	return pins, nil
}

// SearchPins finds namespaces and methods whose name or path contains query,
// case-insensitively. Exact name matches sort first.
func (s *Store) SearchPins(query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.Query(
		`SELECT p.id, f.path, p.kind, p.name, p.path, p.start_line, p.start_col
		 FROM pins p JOIN files f ON f.id = p.file_id
		 WHERE p.kind IN ('namespace', 'method') AND p.path != ''
		   AND (p.name LIKE ? ESCAPE '\' OR p.path LIKE ? ESCAPE '\')
		 ORDER BY (p.name = ?) DESC, length(p.path), p.path
		 LIMIT ?`,
		pattern, pattern, query, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "search pins")
	}
	defer rows.Close()
	var results []*SearchResult
	for rows.Next() {
		r := &SearchResult{}
		if err := rows.Scan(&r.PinID, &r.FilePath, &r.Kind, &r.Name, &r.Path, &r.Line, &r.Col); err != nil {
			return nil, errors.Wrap(err, "scan search result")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// PinCount returns the number of stored pins.
func (s *Store) PinCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pins").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count pins")
	}
	return n, nil
}
