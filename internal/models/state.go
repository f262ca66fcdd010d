package models

// FileTagState is the last known tag layout of one file: parallel fingerprint
// and record slices of equal length. A nil record means the occurrence has no
// detail yet.
type FileTagState struct {
	Fingerprints []string
	Records      []*Record
}

// NewFileTagState returns an empty state.
func NewFileTagState() *FileTagState {
	return &FileTagState{Fingerprints: []string{}, Records: []*Record{}}
}

// Len returns the number of tag occurrences the state describes.
func (s *FileTagState) Len() int { return len(s.Fingerprints) }

// Clone deep-copies the state.
func (s *FileTagState) Clone() *FileTagState {
	if s == nil {
		return nil
	}
	fps := make([]string, len(s.Fingerprints))
	copy(fps, s.Fingerprints)
	return &FileTagState{Fingerprints: fps, Records: CloneRecords(s.Records)}
}

// Normalize pads or truncates Records so both slices have the same length.
func (s *FileTagState) Normalize() {
	switch {
	case len(s.Records) < len(s.Fingerprints):
		s.Records = append(s.Records, make([]*Record, len(s.Fingerprints)-len(s.Records))...)
	case len(s.Records) > len(s.Fingerprints):
		s.Records = s.Records[:len(s.Fingerprints)]
	}
}
