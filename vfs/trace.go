package vfs

// Trace collects the intermediate steps of a move/rename/copy for the
// debug endpoints. A nil Trace records nothing.
type Trace map[string]interface{}

func (t Trace) set(key string, value interface{}) {
	if t != nil {
		t[key] = value
	}
}
