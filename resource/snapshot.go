package resource

// A Snapshot is a deep copy of the table at one moment. It can be read from
// any goroutine.
type Snapshot struct {
	Resources []DescriptorSnapshot `json:"resources"`
}

// DescriptorSnapshot is the copied state of one resource.
type DescriptorSnapshot struct {
	Total     int   `json:"total"`
	Available int   `json:"available"`
	Allocated []int `json:"allocated"`
}

// Snapshot copies the current state of the table.
func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		Resources: make([]DescriptorSnapshot, len(t.descriptors)),
	}

	for r, d := range t.descriptors {
		s.Resources[r] = DescriptorSnapshot{
			Total:     d.Total,
			Available: d.Available,
			Allocated: append([]int(nil), d.Allocated...),
		}
	}

	return s
}

// NumResources returns the number of resources in the snapshot.
func (s Snapshot) NumResources() int {
	return len(s.Resources)
}

// NumSlots returns the number of slots in the snapshot.
func (s Snapshot) NumSlots() int {
	if len(s.Resources) == 0 {
		return 0
	}

	return len(s.Resources[0].Allocated)
}

// Total returns the number of instances of resource r.
func (s Snapshot) Total(r int) int {
	return s.Resources[r].Total
}

// Available returns the number of free instances of resource r.
func (s Snapshot) Available(r int) int {
	return s.Resources[r].Available
}

// Allocated returns the number of instances of resource r held by slot.
func (s Snapshot) Allocated(r, slot int) int {
	return s.Resources[r].Allocated[slot]
}
