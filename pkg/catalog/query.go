package catalog

import (
	"fmt"
	"strings"
)

// SortKey names a column FindAll can order by.
type SortKey string

const (
	SortByName        SortKey = "name"
	SortByScore       SortKey = "score"
	SortByUpdatedAt   SortKey = "updated_at"
	SortByPublishedAt SortKey = "published_at"
)

var sortColumns = map[SortKey]string{
	SortByName:        "name",
	SortByScore:       "score",
	SortByUpdatedAt:   "updated_at",
	SortByPublishedAt: "published_at",
}

// Query selects and orders records. Filter runs in Go after the rows are
// read; a nil Filter keeps every row. An empty SortBy orders by name. Ties
// are broken by id ascending and NULL values always sort last.
type Query struct {
	Filter func(*PluginRecord) bool
	SortBy SortKey
	Desc   bool
}

func (q Query) column() (string, error) {
	if q.SortBy == "" {
		return sortColumns[SortByName], nil
	}
	col, ok := sortColumns[q.SortBy]
	if !ok {
		return "", fmt.Errorf("unknown sort key %q", q.SortBy)
	}
	return col, nil
}

// View is a named, predefined Query.
type View string

const (
	ViewAll       View = "all"
	ViewPopular   View = "popular"
	ViewNewest    View = "newest"
	ViewInstalled View = "installed"
)

// Views lists every named view.
var Views = []View{ViewAll, ViewPopular, ViewNewest, ViewInstalled}

// ParseView maps a case-insensitive name to a View. An empty name is ViewAll.
func ParseView(name string) (View, error) {
	if name == "" {
		return ViewAll, nil
	}
	v := View(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Views {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown view %q", name)
}

// Query returns the Query behind the view.
func (v View) Query() Query {
	switch v {
	case ViewPopular:
		return Query{SortBy: SortByScore, Desc: true}
	case ViewNewest:
		return Query{SortBy: SortByUpdatedAt, Desc: true}
	case ViewInstalled:
		return Query{Filter: IsInstalled, SortBy: SortByName}
	default:
		return Query{SortBy: SortByName}
	}
}

// IsInstalled reports whether the plugin is installed locally.
func IsInstalled(r *PluginRecord) bool {
	return r.Installed
}
