package lsp

import (
	"net/url"
	"path/filepath"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/jward/pinpoint"
	"github.com/jward/pinpoint/internal/apimap"
	"github.com/jward/pinpoint/internal/pin"
)

// uriToPath converts a file:// URI to a filesystem path. Other strings are
// returned unchanged.
func uriToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	return filepath.FromSlash(u.Path)
}

// pathToURI converts a filesystem path to a file:// URI.
func pathToURI(path string) protocol.DocumentUri {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return protocol.DocumentUri(u.String())
}

func toProtocolRange(loc pin.Location) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: uint32(loc.StartLine), Character: uint32(loc.StartCol)},
		End:   protocol.Position{Line: uint32(loc.EndLine), Character: uint32(loc.EndCol)},
	}
}

// toLocation converts a pin's declaration site. Core stubs have no file on
// disk and report false.
func toLocation(p *pin.Pin) (protocol.Location, bool) {
	if p.Location.Filename == "" || strings.HasPrefix(p.Location.Filename, apimap.CorePrefix) {
		return protocol.Location{}, false
	}
	return protocol.Location{URI: pathToURI(p.Location.Filename), Range: toProtocolRange(p.Location)}, true
}

// toUpdater converts a didChange notification into an incremental patch.
func toUpdater(filename string, params *protocol.DidChangeTextDocumentParams) pinpoint.Updater {
	u := pinpoint.Updater{Filename: filename, Version: int(params.TextDocument.Version)}
	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			u.Changes = append(u.Changes, pinpoint.Change{Text: c.Text})
		case protocol.TextDocumentContentChangeEvent:
			ch := pinpoint.Change{Text: c.Text}
			if c.Range != nil {
				ch.Range = &pinpoint.Range{
					Start: pinpoint.Position{Line: int(c.Range.Start.Line), Col: int(c.Range.Start.Character)},
					End:   pinpoint.Position{Line: int(c.Range.End.Line), Col: int(c.Range.End.Character)},
				}
			}
			u.Changes = append(u.Changes, ch)
		}
	}
	return u
}

func completionKind(p *pin.Pin) protocol.CompletionItemKind {
	switch p.Kind {
	case pin.Namespace:
		if p.IsModule() {
			return protocol.CompletionItemKindModule
		}
		return protocol.CompletionItemKindClass
	case pin.Method:
		if p.Name == "initialize" {
			return protocol.CompletionItemKindConstructor
		}
		return protocol.CompletionItemKindMethod
	case pin.InstanceVariable, pin.ClassVariable:
		return protocol.CompletionItemKindField
	case pin.LocalVariable, pin.BlockParameter, pin.GlobalVariable:
		return protocol.CompletionItemKindVariable
	case pin.Block, pin.Virtual:
	}
	return protocol.CompletionItemKindText
}

func symbolKind(p *pin.Pin) protocol.SymbolKind {
	switch p.Kind {
	case pin.Namespace:
		if p.IsModule() {
			return protocol.SymbolKindModule
		}
		return protocol.SymbolKindClass
	case pin.Method:
		if p.Name == "initialize" {
			return protocol.SymbolKindConstructor
		}
		return protocol.SymbolKindMethod
	case pin.InstanceVariable, pin.ClassVariable:
		return protocol.SymbolKindField
	case pin.LocalVariable, pin.BlockParameter, pin.GlobalVariable, pin.Block, pin.Virtual:
	}
	return protocol.SymbolKindVariable
}

func completionItems(c *apimap.Completion) []protocol.CompletionItem {
	items := make([]protocol.CompletionItem, 0, len(c.Pins))
	for _, p := range c.Pins {
		kind := completionKind(p)
		item := protocol.CompletionItem{
			Label: p.Name,
			Kind:  &kind,
		}
		if detail := pinDetail(p); detail != "" {
			item.Detail = &detail
		}
		if p.Docstring.Text != "" {
			item.Documentation = protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: p.Docstring.Text}
		}
		items = append(items, item)
	}
	return items
}

// pinDetail is the one-line summary shown next to a completion: the
// owner path and return type.
func pinDetail(p *pin.Pin) string {
	var parts []string
	if p.Path != "" && p.Path != p.Name {
		parts = append(parts, p.Path)
	}
	if p.ReturnType != "" {
		parts = append(parts, "=> "+p.ReturnType)
	}
	return strings.Join(parts, " ")
}

func signatureLabel(p *pin.Pin) string {
	return p.Path + "(" + strings.Join(p.Parameters, ", ") + ")"
}

func signatureHelp(pins []*pin.Pin, argIndex int) *protocol.SignatureHelp {
	help := &protocol.SignatureHelp{}
	for _, p := range pins {
		info := protocol.SignatureInformation{Label: signatureLabel(p)}
		for _, param := range p.Parameters {
			info.Parameters = append(info.Parameters, protocol.ParameterInformation{Label: param})
		}
		if p.Docstring.Text != "" {
			info.Documentation = p.Docstring.Text
		}
		help.Signatures = append(help.Signatures, info)
	}
	if len(help.Signatures) > 0 {
		active := protocol.UInteger(0)
		param := protocol.UInteger(max(argIndex, 0))
		help.ActiveSignature = &active
		help.ActiveParameter = &param
	}
	return help
}

func symbolInformation(p *pin.Pin) (protocol.SymbolInformation, bool) {
	loc, ok := toLocation(p)
	if !ok {
		return protocol.SymbolInformation{}, false
	}
	info := protocol.SymbolInformation{Name: p.Path, Kind: symbolKind(p), Location: loc}
	if p.Namespace != "" {
		ns := p.Namespace
		info.ContainerName = &ns
	}
	return info, true
}

func searchResultInformation(r *pinpoint.SearchResult) protocol.SymbolInformation {
	kind := protocol.SymbolKindMethod
	if k, ok := pin.ParseKind(r.Kind); ok && k == pin.Namespace {
		kind = protocol.SymbolKindClass
	}
	pos := protocol.Position{Line: uint32(r.Line), Character: uint32(r.Col)}
	return protocol.SymbolInformation{
		Name: r.Path,
		Kind: kind,
		Location: protocol.Location{
			URI:   pathToURI(r.FilePath),
			Range: protocol.Range{Start: pos, End: pos},
		},
	}
}

// rubyFileOperations selects the file events the server wants to hear about.
func rubyFileOperations() *protocol.FileOperationRegistrationOptions {
	return &protocol.FileOperationRegistrationOptions{
		Filters: []protocol.FileOperationFilter{{
			Scheme:  stringPtr("file"),
			Pattern: protocol.FileOperationPattern{Glob: "**/*.rb"},
		}},
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func stringPtr(s string) *string {
	return &s
}
