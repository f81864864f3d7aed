package hydro

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrArtifactNotFound  = errors.New("windowed table not found")
	ErrArtifactAmbiguous = errors.New("windowed table is ambiguous")
)

// ItemKey renders an item number the way artifact names carry it ("001").
func ItemKey(item int) string {
	return fmt.Sprintf("%03d", item)
}

// ArtifactName is the windowed table name for one manifest entry and layout,
// e.g. "001_rd181211_h19.csv".
func ArtifactName(item int, run string, layout Layout) string {
	return ItemKey(item) + "_" + run + "_" + layout.Suffix()
}

type ArtifactRef struct {
	ItemKey string
	Run     string
	Kind    string
}

// ParseArtifactName splits "<item>_<run>_<kind>.csv". Run identifiers may
// themselves contain underscores.
func ParseArtifactName(name string) (ArtifactRef, bool) {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if !strings.HasSuffix(base, ".csv") {
		return ArtifactRef{}, false
	}
	base = strings.TrimSuffix(base, ".csv")
	first := strings.Index(base, "_")
	last := strings.LastIndex(base, "_")
	if first <= 0 || last <= first+1 || last == len(base)-1 {
		return ArtifactRef{}, false
	}
	key := base[:first]
	if _, err := strconv.Atoi(key); err != nil {
		return ArtifactRef{}, false
	}
	ref := ArtifactRef{ItemKey: key, Run: base[first+1 : last], Kind: base[last+1:]}
	if _, err := LayoutByKind(ref.Kind); err != nil {
		return ArtifactRef{}, false
	}
	return ref, true
}

// LocateArtifact picks the one candidate name belonging to itemKey in the
// given layout. The "_" separator keeps "001" from matching "0010_...".
func LocateArtifact(candidates []string, itemKey string, layout Layout) (string, error) {
	var found []string
	for _, c := range candidates {
		ref, ok := ParseArtifactName(c)
		if !ok || ref.ItemKey != itemKey || ref.Kind != layout.Kind {
			continue
		}
		found = append(found, c)
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: item %s layout %s", ErrArtifactNotFound, itemKey, layout.Kind)
	case 1:
		return found[0], nil
	default:
		sort.Strings(found)
		return "", fmt.Errorf("%w: item %s layout %s matches %s", ErrArtifactAmbiguous, itemKey, layout.Kind, strings.Join(found, ", "))
	}
}

type indexKey struct {
	item string
	kind string
}

// ArtifactIndex maps (item, layout) to the storage key of its windowed table.
type ArtifactIndex struct {
	keys      map[indexKey]string
	conflicts map[indexKey][]string
}

func NewArtifactIndex() *ArtifactIndex {
	return &ArtifactIndex{keys: make(map[indexKey]string), conflicts: make(map[indexKey][]string)}
}

func (x *ArtifactIndex) Add(itemKey string, layout Layout, key string) {
	x.keys[indexKey{item: itemKey, kind: layout.Kind}] = key
}

func (x *ArtifactIndex) Lookup(itemKey string, layout Layout) (string, error) {
	ik := indexKey{item: itemKey, kind: layout.Kind}
	if k, ok := x.keys[ik]; ok {
		return k, nil
	}
	if found, ok := x.conflicts[ik]; ok {
		return "", fmt.Errorf("%w: item %s layout %s matches %s", ErrArtifactAmbiguous, itemKey, layout.Kind, strings.Join(found, ", "))
	}
	return "", fmt.Errorf("%w: item %s layout %s", ErrArtifactNotFound, itemKey, layout.Kind)
}

func (x *ArtifactIndex) Len() int {
	return len(x.keys)
}

// Fill adds artifacts from a name listing for every (item, layout) the index
// does not know yet. Several names for one unknown pair are remembered and
// reported as ambiguous on Lookup.
func (x *ArtifactIndex) Fill(names []string) {
	pending := make(map[indexKey][]string)
	for _, n := range names {
		ref, ok := ParseArtifactName(n)
		if !ok {
			continue
		}
		k := indexKey{item: ref.ItemKey, kind: ref.Kind}
		if _, known := x.keys[k]; known {
			continue
		}
		pending[k] = append(pending[k], n)
	}
	for k, found := range pending {
		layout, err := LayoutByKind(k.kind)
		if err != nil {
			continue
		}
		key, err := LocateArtifact(found, k.item, layout)
		if err != nil {
			sort.Strings(found)
			x.conflicts[k] = found
			continue
		}
		x.keys[k] = key
	}
}
