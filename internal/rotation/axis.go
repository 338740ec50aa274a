package rotation

// Axis is one rotation dimension as the attempt loop sees it: a pool plus the
// switches deciding whether the pool is consulted at all.
type Axis struct {
	Kind       Kind
	Enabled    bool
	RetryLimit int
	// Required makes a nil selection fatal for the attempt.
	Required bool

	pool  *Pool
	fixed *Item
}

// NewAxis builds a rotating axis over pool.
func NewAxis(pool *Pool, enabled, required bool, retryLimit int) *Axis {
	if retryLimit < 1 {
		retryLimit = 1
	}
	return &Axis{
		Kind:       pool.Kind(),
		Enabled:    enabled,
		RetryLimit: retryLimit,
		Required:   required,
		pool:       pool,
	}
}

// Fixed returns an axis that always yields value (or nil when value is empty).
// It is used for a task-bound account state file, for the default state file
// when rotation is off, and for a proxy axis that is disabled.
func Fixed(kind Kind, value string, required bool) *Axis {
	a := &Axis{Kind: kind, RetryLimit: 1, Required: required}
	if value != "" {
		a.fixed = &Item{Value: value}
	}
	return a
}

// Mode returns the pool mode, or per_task for a fixed axis.
func (a *Axis) Mode() Mode {
	if a.pool == nil {
		return ModePerTask
	}
	return a.pool.Mode()
}

// Select returns the item to use for an attempt.
func (a *Axis) Select(forceNew bool) *Item {
	if !a.Enabled || a.pool == nil {
		return a.fixed
	}
	return a.pool.Pick(forceNew)
}

// Rotates reports whether the axis switches items after a failed attempt.
func (a *Axis) Rotates() bool {
	return a.Enabled && a.pool != nil && a.pool.Mode() == ModeOnFailure
}

// Rotate blacklists the current selection and forces a new pick.
func (a *Axis) Rotate(reason string) *Item {
	if !a.Rotates() {
		return a.Select(false)
	}
	a.pool.MarkBad(a.pool.Current(), reason)
	return a.pool.Pick(true)
}

// Value returns the item's value, or "" for nil.
func Value(it *Item) string {
	if it == nil {
		return ""
	}
	return it.Value
}
