package room

// Member is one entry of a room roster.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Snapshot is the last-known state a session reported for itself.
// Optional fields stay nil until the client first reports them. The values
// behind the pointers are never mutated after a snapshot is stored.
type Snapshot struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Angle *float64 `json:"angle,omitempty"`
	Alive *bool    `json:"alive,omitempty"`
}

// Patch carries the fields of a state update. Nil fields leave the stored
// value untouched.
type Patch struct {
	Name  *string  `json:"name,omitempty"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Angle *float64 `json:"angle,omitempty"`
	Alive *bool    `json:"alive,omitempty"`
}

// IsEmpty reports whether the patch sets no field.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.X == nil && p.Y == nil && p.Angle == nil && p.Alive == nil
}

// Apply returns s shallow-merged with p.
func (s Snapshot) Apply(p Patch) Snapshot {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.X != nil {
		s.X = p.X
	}
	if p.Y != nil {
		s.Y = p.Y
	}
	if p.Angle != nil {
		s.Angle = p.Angle
	}
	if p.Alive != nil {
		s.Alive = p.Alive
	}
	return s
}
