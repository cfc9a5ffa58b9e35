package pipeline

// Door is one static catalog entry mapping a short command key to a
// physical lock.
type Door struct {
	DisplayName string
	ShortKey    string
	LockID      string
}

// Catalog is the fixed, ordered door set. One designated compound key
// expands to an ordered pair (outer door first, inner door second).
type Catalog struct {
	Doors        []Door
	CompoundKey  string
	CompoundPair [2]string
}

// Resolve maps a command key to the doors it unlocks, in unlock order.
// The second return is false for unrecognized keys.
func (c Catalog) Resolve(key string) ([]Door, bool) {
	if key == c.CompoundKey && c.CompoundKey != "" {
		outer, okOuter := c.find(c.CompoundPair[0])
		inner, okInner := c.find(c.CompoundPair[1])
		if !okOuter || !okInner {
			return nil, false
		}
		return []Door{outer, inner}, true
	}

	door, ok := c.find(key)
	if !ok {
		return nil, false
	}
	return []Door{door}, true
}

func (c Catalog) find(shortKey string) (Door, bool) {
	for _, door := range c.Doors {
		if door.ShortKey == shortKey {
			return door, true
		}
	}
	return Door{}, false
}
