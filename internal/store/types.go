package store

import "time"

// File is a merged source file. The text is kept so a file can be reloaded
// without touching disk.
type File struct {
	ID          int64
	Path        string
	Hash        string
	Text        string
	LastIndexed time.Time
}

// SearchResult is a pin matched by a workspace symbol search, with the path
// of the file that declares it.
type SearchResult struct {
	PinID    int64
	FilePath string
	Kind     string
	Name     string
	Path     string
	Line     int
	Col      int
}
