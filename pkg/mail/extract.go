package mail

// ExtractMetadata builds a MessageMetadata record from a batch payload.
// Only the first occurrence of each of From, Date and Subject is kept.
func ExtractMetadata(p Payload) MessageMetadata {
	var f Fields
	for _, h := range p.Headers {
		v := h.Value
		switch h.Name {
		case "From":
			if f.From == nil {
				f.From = &v
			}
		case "Date":
			if f.Date == nil {
				f.Date = &v
			}
		case "Subject":
			if f.Subject == nil {
				f.Subject = &v
			}
		}
	}
	labels := p.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	return MessageMetadata{ID: p.ID, Labels: labels, Fields: f}
}

// Value dereferences an optional field, returning "" when absent.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
