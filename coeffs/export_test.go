package coeffs

// OffsetFor exposes the table addressing to the external tests.
func (s *Store) OffsetFor(epoch float64, harmonic int) int {
	return s.offsetFor(epoch, harmonic)
}

// TableAt reads one raw table entry.
func (s *Store) TableAt(offset int) float64 {
	return s.table[offset]
}
