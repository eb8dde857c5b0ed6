package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIPin is a JSON-friendly pin representation.
type CLIPin struct {
	Kind       string   `json:"kind"`
	Name       string   `json:"name"`
	Path       string   `json:"path,omitempty"`
	Namespace  string   `json:"namespace,omitempty"`
	Scope      string   `json:"scope"`
	ReturnType string   `json:"return_type,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
	Docstring  string   `json:"docstring,omitempty"`
	File       string   `json:"file,omitempty"`
	StartLine  int      `json:"start_line"`
	StartCol   int      `json:"start_col"`
	EndLine    int      `json:"end_line"`
	EndCol     int      `json:"end_col"`
}

// CLICompletion is the word being completed and its suggestions.
type CLICompletion struct {
	Word string   `json:"word"`
	Pins []CLIPin `json:"pins"`
}

// CLISearchResult is a JSON-friendly symbol search hit.
type CLISearchResult struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Kind string `json:"kind"`
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// CLILoadStats summarizes an index run.
type CLILoadStats struct {
	Root       string `json:"root"`
	Database   string `json:"database"`
	Discovered int    `json:"discovered"`
	Mapped     int    `json:"mapped"`
	Reused     int    `json:"reused"`
	Removed    int    `json:"removed"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
}
