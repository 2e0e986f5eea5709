package grantry

// An Action names an operation the registry can govern. Parameterized
// actions take an argument narrowing them to a specific target, e.g.
// "edit" parameterized by a document id.
type Action struct {
	Name          string `json:"name"`
	Parameterized bool   `json:"parameterized,omitempty"`
}

// A Registry is the set of known actions, keyed by name. The resolution
// engine itself never needs one (unknown actions simply default-deny);
// outer surfaces use it to reject checks for actions that were never
// registered, or arguments on actions that take none.
type Registry map[string]Action

func NewRegistry(actions ...Action) Registry {
	r := make(Registry, len(actions))
	for _, action := range actions {
		r[action.Name] = action
	}
	return r
}

// Register adds or replaces an action.
func (r Registry) Register(action Action) {
	r[action.Name] = action
}

// IsValid reports whether action is registered and the argument is
// permissible for it. A non-empty argument is only valid on a
// parameterized action; an empty one is valid on any registered action.
func (r Registry) IsValid(action, argument string) bool {
	a, ok := r[action]
	if !ok {
		return false
	}
	return argument == "" || a.Parameterized
}
