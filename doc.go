// Package pinpoint provides code intelligence for Ruby: completion,
// go-to-definition and signature help, computed from a database of symbol
// records ("pins") and a best-effort type inference engine.
//
// # Pipeline
//
// Every file is parsed with tree-sitter and mapped to pins: namespaces,
// methods, blocks, block parameters and variables, with return types taken
// from YARD tags or inferred from assignments. Optional Risor convention
// scripts contribute extra pins, e.g. methods generated by framework macros;
// the conventions package embeds the built-in ones:
//
//	pinpoint.WithScriptsFS(conventions.FS, conventions.Builtin...)
//
// The pins of every merged file are persisted to SQLite so a reload only
// remaps files whose content changed.
//
// # Usage
//
// Load a project directory, open a buffer and query it:
//
//	lib, err := pinpoint.Load(ctx, "path/to/project",
//		pinpoint.WithDatabase("path/to/project/.pinpoint.db"))
//	if err != nil { ... }
//	defer lib.Shutdown()
//
//	err = lib.Open(ctx, "app/models/user.rb", text, 1)
//	c, err := lib.CompletionsAt("app/models/user.rb", 10, 8)
//
// # Sessions
//
// A [Library] keeps a table of open files and one virtualized file. Every
// position-addressed query first checks out its file: the file's current
// Source replaces its merged copy in the symbol database, so edits applied
// with [Library.Synchronize] are visible to queries without re-merging the
// file into the project. Files must be opened or created before they can
// be queried; otherwise the query fails with [ErrFileNotFound].
//
// A Library takes no locks. Callers that share one between goroutines, such
// as the LSP server, serialize access themselves.
//
// # Configuration
//
// [Load] reads .pinpoint.yml from the project root:
//
//	include:            # gitignore-style patterns, default **/*.rb
//	  - "app/**/*.rb"
//	exclude:            # default spec/, test/, vendor/, .bundle/
//	  - "app/legacy/"
//	conventions:        # Risor scripts relative to the root
//	  - conventions/rails.risor
//	max_files: 5000
package pinpoint
