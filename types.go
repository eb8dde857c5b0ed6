package pinpoint

import (
	"github.com/jward/pinpoint/internal/apimap"
	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
	"github.com/jward/pinpoint/internal/store"
	"github.com/jward/pinpoint/internal/workspace"
)

// Public type aliases for the internal types used by the Library API.

type Pin = pin.Pin
type Location = pin.Location
type Kind = pin.Kind
type Source = source.Source
type Updater = source.Updater
type Change = source.Change
type Range = source.Range
type Position = source.Position
type Completion = apimap.Completion
type SearchResult = store.SearchResult
type LoadStats = workspace.LoadStats
