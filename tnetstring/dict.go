package tnetstring

// Pair is a single dictionary entry.
type Pair struct {
	Key   string
	Value any
}

// Dict is a dictionary that keeps the order its keys were written in.
type Dict []Pair

// Get returns the first value stored under key.
func (d Dict) Get(key string) (any, bool) {
	for _, p := range d {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (d Dict) Keys() []string {
	keys := make([]string, len(d))
	for i, p := range d {
		keys[i] = p.Key
	}
	return keys
}

// Map flattens d into a map. Later duplicates win.
func (d Dict) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, p := range d {
		m[p.Key] = p.Value
	}
	return m
}
