package params

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"example.com/paramgate/internal/schema"
)

// UngroupedKey is the group bucket for entries the schema does not describe.
const UngroupedKey = "<ungrouped>"

// Set is an ordered collection of entries with a name index and a group
// index keyed by the joined group path. All mutation goes through the
// methods below so both indexes stay consistent with the entries.
//
// A Set is not safe for concurrent mutation; hosts that share one across
// goroutines wrap it (see the session package).
type Set struct {
	entries    []*Entry
	index      map[string]int
	groups     map[string][]*Entry
	groupOrder []string
}

func New() *Set {
	return &Set{
		index:  make(map[string]int),
		groups: make(map[string][]*Entry),
	}
}

// Insert appends e. Names are unique; inserting a name twice is an error.
func (s *Set) Insert(e *Entry) error {
	if e == nil {
		return fmt.Errorf("params: nil entry")
	}
	if _, exists := s.index[e.Name]; exists {
		return fmt.Errorf("params: duplicate entry %s", e.Name)
	}
	e.Category = CategoryOf(e.Name)
	s.index[e.Name] = len(s.entries)
	s.entries = append(s.entries, e)
	key := e.GroupKey()
	if _, ok := s.groups[key]; !ok {
		s.groupOrder = append(s.groupOrder, key)
	}
	s.groups[key] = append(s.groups[key], e)
	return nil
}

func (s *Set) Len() int { return len(s.entries) }

func (s *Set) Lookup(name string) (*Entry, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.entries[i], true
}

// Entries returns the entries in source order. The slice is a copy; the
// entries are shared.
func (s *Set) Entries() []*Entry {
	return append([]*Entry(nil), s.entries...)
}

// Sorted returns the entries ordered by name.
func (s *Set) Sorted() []*Entry {
	out := s.Entries()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Groups lists group keys in first-seen order. The root group is "".
func (s *Set) Groups() []string {
	return append([]string(nil), s.groupOrder...)
}

// EntriesInGroup returns the entries filed directly under key, in source
// order.
func (s *Set) EntriesInGroup(key string) []*Entry {
	return append([]*Entry(nil), s.groups[key]...)
}

// Subtree returns the entries under key and every descendant group, in
// source order. The empty key selects every resolved entry.
func (s *Set) Subtree(key string) []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.Def == nil {
			continue
		}
		k := e.GroupKey()
		if key == "" || k == key || strings.HasPrefix(k, key+"/") {
			out = append(out, e)
		}
	}
	return out
}

// SetValue applies an explicit edit. The value is checked strictly against
// the definition; on failure the entry is unchanged.
func (s *Set) SetValue(name string, v float64) error {
	e, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("params: set %s: %w", name, ErrUnknownParameter)
	}
	if err := Validate(name, e.Def, v); err != nil {
		return err
	}
	e.Value = Normalize(e.Def, v)
	e.Dirty = true
	if e.Def != nil {
		e.Status = StatusValid
	}
	return nil
}

// ResetToDefault restores the schema default and clears the dirty flag. It
// does nothing when no default is recorded.
func (s *Set) ResetToDefault(name string) error {
	e, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("params: reset %s: %w", name, ErrUnknownParameter)
	}
	if e.Def == nil || e.Def.Default == nil {
		return nil
	}
	e.Value = Normalize(e.Def, *e.Def.Default)
	e.Dirty = false
	e.Status = StatusValid
	return nil
}

// Restore writes v back without the strict edit checks. It is used to undo
// edits, so a value that was out of range before the edit becomes
// OutOfRange again.
func (s *Set) Restore(name string, v float64) error {
	e, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("params: restore %s: %w", name, ErrUnknownParameter)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Param: name, Value: v, Reason: "value is not finite"}
	}
	e.Value = Normalize(e.Def, v)
	e.Dirty = true
	if e.Def != nil {
		e.Status = StatusValid
		if err := Validate(name, e.Def, v); err != nil {
			e.Status = StatusOutOfRange
		}
	}
	return nil
}

// Add creates an entry for def that was not present in the source. The
// entry has no raw record and starts dirty.
func (s *Set) Add(def *schema.Definition, v float64) (*Entry, error) {
	if def == nil {
		return nil, fmt.Errorf("params: add: nil definition")
	}
	if _, exists := s.index[def.Name]; exists {
		return nil, fmt.Errorf("params: add %s: already present", def.Name)
	}
	if err := Validate(def.Name, def, v); err != nil {
		return nil, err
	}
	e := &Entry{Name: def.Name, Value: Normalize(def, v), Def: def, Dirty: true, Status: StatusValid}
	if err := s.Insert(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Remove deletes the named entry from the set and both indexes.
func (s *Set) Remove(name string) error {
	i, ok := s.index[name]
	if !ok {
		return fmt.Errorf("params: remove %s: %w", name, ErrUnknownParameter)
	}
	e := s.entries[i]
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, name)
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].Name] = j
	}
	key := e.GroupKey()
	bucket := s.groups[key]
	for j, be := range bucket {
		if be == e {
			bucket = append(bucket[:j], bucket[j+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(s.groups, key)
		for j, k := range s.groupOrder {
			if k == key {
				s.groupOrder = append(s.groupOrder[:j], s.groupOrder[j+1:]...)
				break
			}
		}
	} else {
		s.groups[key] = bucket
	}
	return nil
}

// Dirty returns the entries edited since load or the last MarkClean.
func (s *Set) Dirty() []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.Dirty {
			out = append(out, e)
		}
	}
	return out
}

// MarkClean clears every dirty flag. Hosts call it after a successful save.
func (s *Set) MarkClean() {
	for _, e := range s.entries {
		e.Dirty = false
	}
}

// Query selects entries. Empty fields match everything. Search is a
// case-insensitive substring match on the name and the formatted value.
type Query struct {
	Search     string
	Categories []Category
	Statuses   []Status
	Group      string
}

func (s *Set) Filter(q Query) []*Entry {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var out []*Entry
	for _, e := range s.entries {
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Name), search) &&
			!strings.Contains(strings.ToLower(e.FormatValue()), search) {
			continue
		}
		if len(q.Categories) > 0 && !containsCategory(q.Categories, e.Category) {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, e.Status) {
			continue
		}
		if q.Group != "" {
			k := e.GroupKey()
			if k != q.Group && !strings.HasPrefix(k, q.Group+"/") {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func containsCategory(list []Category, c Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, st Status) bool {
	for _, x := range list {
		if x == st {
			return true
		}
	}
	return false
}

// Counts tallies entries by status.
func (s *Set) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, e := range s.entries {
		out[e.Status]++
	}
	return out
}
