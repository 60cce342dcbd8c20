// Package groups loads the theme/group classification table.
//
// The file is TOML:
//
//	[groups]
//	semiconductors = ["005930", "000660"]
//
//	[names]
//	005930 = "Samsung Electronics"
package groups

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type file struct {
	Groups map[string][]string `toml:"groups"`
	Names  map[string]string   `toml:"names"`
}

// Map is read-only after Load and safe to share.
type Map struct {
	byGroup  map[string][]string
	bySymbol map[string][]string
	names    map[string]string
}

func Empty() *Map {
	return &Map{
		byGroup:  map[string][]string{},
		bySymbol: map[string][]string{},
		names:    map[string]string{},
	}
}

func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read group map: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Map, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse group map: %w", err)
	}

	m := Empty()
	for group, symbols := range f.Groups {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		seen := make(map[string]bool, len(symbols))
		for _, s := range symbols {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			m.byGroup[group] = append(m.byGroup[group], s)
			m.bySymbol[s] = append(m.bySymbol[s], group)
		}
	}
	for s := range m.bySymbol {
		sort.Strings(m.bySymbol[s])
	}
	for s, n := range f.Names {
		m.names[strings.ToUpper(strings.TrimSpace(s))] = n
	}
	return m, nil
}

// GroupsOf returns the groups symbol belongs to, sorted.
func (m *Map) GroupsOf(symbol string) []string {
	return m.bySymbol[symbol]
}

func (m *Map) Members(group string) []string {
	return m.byGroup[group]
}

func (m *Map) Groups() []string {
	out := make([]string, 0, len(m.byGroup))
	for g := range m.byGroup {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Symbols is every classified symbol, sorted.
func (m *Map) Symbols() []string {
	out := make([]string, 0, len(m.bySymbol))
	for s := range m.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Name falls back to the symbol itself.
func (m *Map) Name(symbol string) string {
	if n, ok := m.names[symbol]; ok && n != "" {
		return n
	}
	return symbol
}

// Relations counts symbol-group pairs.
func (m *Map) Relations() int {
	n := 0
	for _, gs := range m.bySymbol {
		n += len(gs)
	}
	return n
}
