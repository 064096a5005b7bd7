package mail

import "encoding/json"

// Collection is an ordered set of MessageMetadata, unique by id.
// Order is insertion order; re-adding an id replaces the record in place.
type Collection struct {
	items []MessageMetadata
	index map[string]int
}

// NewCollection returns a collection holding records, de-duplicated by id.
func NewCollection(records ...MessageMetadata) *Collection {
	c := &Collection{index: make(map[string]int, len(records))}
	for _, r := range records {
		c.Add(r)
	}
	return c
}

// Add appends m, or replaces the existing record with the same id.
func (c *Collection) Add(m MessageMetadata) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	if i, ok := c.index[m.ID]; ok {
		c.items[i] = m
		return
	}
	c.index[m.ID] = len(c.items)
	c.items = append(c.items, m)
}

// Merge adds every record of other.
func (c *Collection) Merge(other *Collection) {
	if other == nil {
		return
	}
	for _, m := range other.items {
		c.Add(m)
	}
}

// Has reports whether a record with id exists.
func (c *Collection) Has(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.index[id]
	return ok
}

// Get returns the record with id.
func (c *Collection) Get(id string) (MessageMetadata, bool) {
	if c == nil {
		return MessageMetadata{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return MessageMetadata{}, false
	}
	return c.items[i], true
}

// Len returns the number of records.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Items returns a copy of the records in insertion order.
func (c *Collection) Items() []MessageMetadata {
	if c == nil {
		return nil
	}
	out := make([]MessageMetadata, len(c.items))
	copy(out, c.items)
	return out
}

// IDs returns the record ids in insertion order.
func (c *Collection) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.items))
	for i, m := range c.items {
		ids[i] = m.ID
	}
	return ids
}

// MarshalJSON encodes the collection as a JSON array.
func (c *Collection) MarshalJSON() ([]byte, error) {
	if c == nil || c.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.items)
}

// UnmarshalJSON decodes a JSON array, applying the same de-duplication as Add.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var records []MessageMetadata
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	*c = Collection{index: make(map[string]int, len(records))}
	for _, r := range records {
		c.Add(r)
	}
	return nil
}

// FailedSet is the set of ids awaiting retry, kept in insertion order.
type FailedSet struct {
	ids   []string
	index map[string]struct{}
}

// NewFailedSet returns a set holding ids.
func NewFailedSet(ids ...string) *FailedSet {
	f := &FailedSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		f.Add(id)
	}
	return f
}

// Add inserts id if not already present.
func (f *FailedSet) Add(id string) {
	if f.index == nil {
		f.index = make(map[string]struct{})
	}
	if _, ok := f.index[id]; ok {
		return
	}
	f.index[id] = struct{}{}
	f.ids = append(f.ids, id)
}

// Remove deletes id from the set.
func (f *FailedSet) Remove(id string) {
	if _, ok := f.index[id]; !ok {
		return
	}
	delete(f.index, id)
	for i, v := range f.ids {
		if v == id {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			break
		}
	}
}

// Has reports whether id is in the set.
func (f *FailedSet) Has(id string) bool {
	if f == nil {
		return false
	}
	_, ok := f.index[id]
	return ok
}

// Len returns the number of ids.
func (f *FailedSet) Len() int {
	if f == nil {
		return 0
	}
	return len(f.ids)
}

// IDs returns a copy of the ids in insertion order.
func (f *FailedSet) IDs() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

// Drain returns the current ids and empties the set.
func (f *FailedSet) Drain() []string {
	ids := f.ids
	f.ids = nil
	f.index = make(map[string]struct{})
	return ids
}
