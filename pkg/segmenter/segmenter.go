package segmenter

import (
	"unicode/utf16"
)

const (
	// Max lengths per segment. GSM-7 limits are in septets, UCS2 limits in
	// UTF-16 code units; multipart limits leave room for a 6-byte
	// concatenation UDH.
	maxGSM7Single    = 160
	maxGSM7Multipart = 153
	maxUCS2Single    = 70
	maxUCS2Multipart = 67
)

// GSM 03.38 default alphabet. Characters in the extension table are sent as
// an escape plus the character, so they cost two septets.
const (
	gsm7Base      = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	gsm7Extension = "\f^{}\\[~]|€"
)

var (
	gsm7Chars = make(map[rune]bool, len(gsm7Base))
	gsm7Ext   = make(map[rune]bool, len(gsm7Extension))
)

func init() {
	for _, r := range gsm7Base {
		gsm7Chars[r] = true
	}
	for _, r := range gsm7Extension {
		gsm7Ext[r] = true
	}
}

// Segmenter defines the interface for splitting messages.
type Segmenter interface {
	// GetSegments splits a message, returning segments and indicating if UCS2 encoding is needed.
	GetSegments(message string) (segments []string, requiresUCS2 bool, err error)
}

// DefaultSegmenter splits on GSM-7 septet and UCS2 code-unit boundaries.
type DefaultSegmenter struct{}

// NewDefaultSegmenter creates a basic segmenter.
func NewDefaultSegmenter() *DefaultSegmenter {
	return &DefaultSegmenter{}
}

// septetCost returns the GSM-7 septet count for r, or 0 if r is not
// representable in GSM-7.
func septetCost(r rune) int {
	switch {
	case gsm7Chars[r]:
		return 1
	case gsm7Ext[r]:
		return 2
	}
	return 0
}

// gsm7Length returns the total septet count, or false when the message
// needs UCS2.
func gsm7Length(message string) (int, bool) {
	total := 0
	for _, r := range message {
		cost := septetCost(r)
		if cost == 0 {
			return 0, false
		}
		total += cost
	}
	return total, true
}

// GetSegments implements the segmentation logic.
func (s *DefaultSegmenter) GetSegments(message string) ([]string, bool, error) {
	if message == "" {
		return []string{""}, false, nil
	}

	if septets, ok := gsm7Length(message); ok {
		if septets <= maxGSM7Single {
			return []string{message}, false, nil
		}
		return splitGSM7(message, maxGSM7Multipart), false, nil
	}

	units := utf16.Encode([]rune(message))
	if len(units) <= maxUCS2Single {
		return []string{message}, true, nil
	}
	return splitUCS2(units, maxUCS2Multipart), true, nil
}

// splitGSM7 packs runes into segments of at most limit septets without
// splitting an escape pair.
func splitGSM7(message string, limit int) []string {
	var segments []string
	var current []rune
	septets := 0
	for _, r := range message {
		cost := septetCost(r)
		if septets+cost > limit {
			segments = append(segments, string(current))
			current = current[:0]
			septets = 0
		}
		current = append(current, r)
		septets += cost
	}
	if len(current) > 0 {
		segments = append(segments, string(current))
	}
	return segments
}

// splitUCS2 packs UTF-16 code units into segments of at most limit units
// without splitting a surrogate pair.
func splitUCS2(units []uint16, limit int) []string {
	var segments []string
	for start := 0; start < len(units); {
		end := start + limit
		if end >= len(units) {
			segments = append(segments, string(utf16.Decode(units[start:])))
			break
		}
		if isHighSurrogate(units[end-1]) {
			end--
		}
		segments = append(segments, string(utf16.Decode(units[start:end])))
		start = end
	}
	return segments
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u < 0xDC00
}
