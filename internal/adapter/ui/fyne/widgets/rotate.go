package widgets

import "unicode/utf8"

// Rotator produces a marquee of text for labels narrower than the text.
type Rotator struct {
	text    string
	shown   []rune
	width   int
	padding int
}

// NewRotator creates a rotator for text shown width characters at a time.
func NewRotator(text string, width int) *Rotator {
	const padding = 4

	shown := []rune(text)
	if utf8.RuneCountInString(text) > width {
		for range padding {
			shown = append(shown, ' ')
		}
	}

	return &Rotator{text: text, shown: shown, width: width, padding: padding}
}

// Text returns the text the rotator was created with.
func (r *Rotator) Text() string {
	return r.text
}

// Rotate moves the marquee one character to the left and returns it.
// Text that fits is returned unchanged.
func (r *Rotator) Rotate() string {
	if len(r.shown) <= r.width {
		return r.text
	}

	first := r.shown[0]
	copy(r.shown, r.shown[1:])
	r.shown[len(r.shown)-1] = first

	return string(r.shown)
}
