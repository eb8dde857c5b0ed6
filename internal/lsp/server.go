// Package lsp serves a pinpoint Library over the Language Server Protocol.
package lsp

import (
	"context"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
	"go.uber.org/zap"

	"github.com/jward/pinpoint"
)

const serverName = "pinpoint"

// LoadFunc creates the Library for a workspace root. The root is "" when
// the client opened no folder.
type LoadFunc func(ctx context.Context, root string) (*pinpoint.Library, error)

// Server implements the LSP handlers. A Library takes no locks, so every
// handler holds mu.
type Server struct {
	load    LoadFunc
	logger  *zap.SugaredLogger
	version string

	mu  sync.Mutex
	lib *pinpoint.Library
}

// NewServer creates a Server that builds its Library with load when the
// client initializes.
func NewServer(load LoadFunc, logger *zap.SugaredLogger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{load: load, logger: logger, version: version}
}

// Handler returns the protocol handler table.
func (s *Server) Handler() *protocol.Handler {
	return &protocol.Handler{
		Initialize:                 s.Initialize,
		Initialized:                s.Initialized,
		Shutdown:                   s.Shutdown,
		TextDocumentDidOpen:        s.TextDocumentDidOpen,
		TextDocumentDidChange:      s.TextDocumentDidChange,
		TextDocumentDidSave:        s.TextDocumentDidSave,
		TextDocumentDidClose:       s.TextDocumentDidClose,
		TextDocumentCompletion:     s.TextDocumentCompletion,
		TextDocumentDefinition:     s.TextDocumentDefinition,
		TextDocumentSignatureHelp:  s.TextDocumentSignatureHelp,
		TextDocumentDocumentSymbol: s.TextDocumentDocumentSymbol,
		WorkspaceSymbol:            s.WorkspaceSymbol,
		WorkspaceDidCreateFiles:    s.WorkspaceDidCreateFiles,
		WorkspaceDidDeleteFiles:    s.WorkspaceDidDeleteFiles,
	}
}

// RunStdio serves LSP over stdin/stdout until the client disconnects.
func (s *Server) RunStdio() error {
	srv := glspserver.NewServer(s.Handler(), serverName, false)
	s.logger.Infow("serving LSP over stdio", "version", s.version)
	return srv.RunStdio()
}

// Initialize loads the Library for the client's workspace root.
func (s *Server) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := ""
	switch {
	case params.RootURI != nil:
		root = uriToPath(string(*params.RootURI))
	case params.RootPath != nil:
		root = *params.RootPath
	}
	s.logger.Infow("LSP client initializing", "client", params.ClientInfo, "root", root)

	if s.lib == nil {
		lib, err := s.load(context.Background(), root)
		if err != nil {
			s.logger.Errorw("load failed", "root", root, "error", err)
			return nil, errors.Wrapf(err, "lsp: load %s", root)
		}
		s.lib = lib
	}

	syncKind := protocol.TextDocumentSyncKindIncremental
	capabilities := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: boolPtr(true),
			Change:    &syncKind,
			Save:      boolPtr(true),
		},
		CompletionProvider: &protocol.CompletionOptions{
			TriggerCharacters: []string{".", ":", "@", "$"},
		},
		DefinitionProvider: true,
		SignatureHelpProvider: &protocol.SignatureHelpOptions{
			TriggerCharacters: []string{"(", ","},
		},
		DocumentSymbolProvider:  true,
		WorkspaceSymbolProvider: true,
		Workspace: &protocol.ServerCapabilitiesWorkspace{
			FileOperations: &protocol.ServerCapabilitiesWorkspaceFileOperations{
				DidCreate: rubyFileOperations(),
				DidDelete: rubyFileOperations(),
			},
		},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: stringPtr(s.version),
		},
	}, nil
}

// Initialized is called after the client receives the InitializeResult.
func (s *Server) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	s.logger.Infow("LSP client initialized")
	return nil
}

// Shutdown releases the Library.
func (s *Server) Shutdown(ctx *glsp.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infow("LSP client shutting down")
	if s.lib == nil {
		return nil
	}
	err := s.lib.Shutdown()
	s.lib = nil
	return err
}

// library returns the loaded Library. Callers hold mu.
func (s *Server) library() (*pinpoint.Library, error) {
	if s.lib == nil {
		return nil, errors.New("lsp: server not initialized")
	}
	return s.lib, nil
}

func (s *Server) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return err
	}
	filename := uriToPath(string(params.TextDocument.URI))
	if err := lib.Open(context.Background(), filename, params.TextDocument.Text, int(params.TextDocument.Version)); err != nil {
		s.logger.Errorw("open failed", "file", filename, "error", err)
		return err
	}
	s.logger.Debugw("document opened", "file", filename, "length", len(params.TextDocument.Text))
	return nil
}

func (s *Server) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return err
	}
	filename := uriToPath(string(params.TextDocument.URI))
	if err := lib.Synchronize(context.Background(), toUpdater(filename, params)); err != nil {
		s.logger.Errorw("synchronize failed", "file", filename, "error", err)
		return err
	}
	s.logger.Debugw("document changed", "file", filename, "changes", len(params.ContentChanges))
	return nil
}

// TextDocumentDidSave merges the edits accumulated since the file was
// opened into the project.
func (s *Server) TextDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return err
	}
	if err := lib.Refresh(context.Background(), false); err != nil {
		s.logger.Errorw("refresh failed", "uri", params.TextDocument.URI, "error", err)
		return err
	}
	return nil
}

func (s *Server) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return err
	}
	filename := uriToPath(string(params.TextDocument.URI))
	lib.Close(filename)
	s.logger.Debugw("document closed", "file", filename)
	return nil
}

func (s *Server) TextDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic in completion handler", "panic", r, "uri", params.TextDocument.URI)
			result = protocol.CompletionList{Items: []protocol.CompletionItem{}}
			err = nil
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := protocol.CompletionList{Items: []protocol.CompletionItem{}}
	lib, err := s.library()
	if err != nil {
		return empty, nil
	}
	filename := uriToPath(string(params.TextDocument.URI))
	c, err := lib.CompletionsAt(filename, int(params.Position.Line), int(params.Position.Character))
	if err != nil {
		s.logger.Warnw("completion failed", "file", filename, "error", err)
		return empty, nil
	}
	s.logger.Debugw("completion", "file", filename, "word", c.Word, "count", len(c.Pins))
	return protocol.CompletionList{Items: completionItems(c)}, nil
}

func (s *Server) TextDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic in definition handler", "panic", r, "uri", params.TextDocument.URI)
			result = []protocol.Location{}
			err = nil
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return []protocol.Location{}, nil
	}
	filename := uriToPath(string(params.TextDocument.URI))
	pins, err := lib.DefinitionsAt(filename, int(params.Position.Line), int(params.Position.Character))
	if err != nil {
		s.logger.Warnw("definition failed", "file", filename, "error", err)
		return []protocol.Location{}, nil
	}
	locations := []protocol.Location{}
	for _, p := range pins {
		if loc, ok := toLocation(p); ok {
			locations = append(locations, loc)
		}
	}
	return locations, nil
}

func (s *Server) TextDocumentSignatureHelp(ctx *glsp.Context, params *protocol.SignatureHelpParams) (result *protocol.SignatureHelp, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic in signature help handler", "panic", r, "uri", params.TextDocument.URI)
			result = nil
			err = nil
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return nil, nil
	}
	filename := uriToPath(string(params.TextDocument.URI))
	line, col := int(params.Position.Line), int(params.Position.Character)
	frag, err := lib.FragmentAt(filename, line, col)
	if err != nil {
		s.logger.Warnw("signature help failed", "file", filename, "error", err)
		return nil, nil
	}
	pins, err := lib.SignaturesAt(filename, line, col)
	if err != nil {
		s.logger.Warnw("signature help failed", "file", filename, "error", err)
		return nil, nil
	}
	if len(pins) == 0 {
		return nil, nil
	}
	return signatureHelp(pins, frag.ArgIndex), nil
}

func (s *Server) TextDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic in document symbol handler", "panic", r, "uri", params.TextDocument.URI)
			result = []protocol.SymbolInformation{}
			err = nil
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return []protocol.SymbolInformation{}, nil
	}
	filename := uriToPath(string(params.TextDocument.URI))
	pins, err := lib.FileSymbols(filename)
	if err != nil {
		s.logger.Warnw("document symbols failed", "file", filename, "error", err)
		return []protocol.SymbolInformation{}, nil
	}
	symbols := []protocol.SymbolInformation{}
	for _, p := range pins {
		if info, ok := symbolInformation(p); ok {
			symbols = append(symbols, info)
		}
	}
	return symbols, nil
}

func (s *Server) WorkspaceSymbol(ctx *glsp.Context, params *protocol.WorkspaceSymbolParams) (result []protocol.SymbolInformation, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic in workspace symbol handler", "panic", r, "query", params.Query)
			result = []protocol.SymbolInformation{}
			err = nil
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return []protocol.SymbolInformation{}, nil
	}
	results, err := lib.QuerySymbols(params.Query, 0)
	if err != nil {
		s.logger.Errorw("workspace symbol search failed", "query", params.Query, "error", err)
		return []protocol.SymbolInformation{}, nil
	}
	symbols := make([]protocol.SymbolInformation, 0, len(results))
	for _, r := range results {
		symbols = append(symbols, searchResultInformation(r))
	}
	return symbols, nil
}

// WorkspaceDidCreateFiles merges new files the project's rules accept.
func (s *Server) WorkspaceDidCreateFiles(ctx *glsp.Context, params *protocol.CreateFilesParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return err
	}
	for _, f := range params.Files {
		filename := uriToPath(f.URI)
		data, err := os.ReadFile(filename)
		if err != nil {
			s.logger.Warnw("created file unreadable", "file", filename, "error", err)
			continue
		}
		ok, err := lib.Create(context.Background(), filename, string(data))
		if err != nil {
			s.logger.Errorw("create failed", "file", filename, "error", err)
			continue
		}
		s.logger.Debugw("file created", "file", filename, "accepted", ok)
	}
	return nil
}

// WorkspaceDidDeleteFiles removes deleted files from the project.
func (s *Server) WorkspaceDidDeleteFiles(ctx *glsp.Context, params *protocol.DeleteFilesParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.library()
	if err != nil {
		return err
	}
	for _, f := range params.Files {
		filename := uriToPath(f.URI)
		if err := lib.Delete(context.Background(), filename); err != nil {
			s.logger.Errorw("delete failed", "file", filename, "error", err)
		}
	}
	return nil
}
