// Package widgets provides custom Fyne widgets for the TuneBridge desktop panel.
package widgets

import (
	fyneapp "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/widget"
)

// Ensure DoubleTapLabel implements the tap interfaces it relies on
var (
	_ fyneapp.DoubleTappable    = (*DoubleTapLabel)(nil)
	_ fyneapp.SecondaryTappable = (*DoubleTapLabel)(nil)
)

// DoubleTapLabel is a custom label widget that responds to double-tap gestures.
// It extends the standard Fyne Label widget to support double-tap interaction,
// which is used in the playlist view for track selection.
type DoubleTapLabel struct {
	widget.Label
	doubleTapped    func(index int)
	secondaryTapped func(index int, pos fyneapp.Position)
	index           int
}

// NewDoubleTapLabel creates a new DoubleTapLabel with the given callback function.
// The callback is invoked when the label is double-tapped, passing the item index.
func NewDoubleTapLabel(doubleTapped func(index int)) *DoubleTapLabel {
	label := &DoubleTapLabel{
		doubleTapped: doubleTapped,
		index:        -1,
	}
	label.Truncation = fyneapp.TextTruncateEllipsis
	label.ExtendBaseWidget(label)
	return label
}

// DoubleTapped implements the fyne.DoubleTappable interface.
func (l *DoubleTapLabel) DoubleTapped(_ *fyneapp.PointEvent) {
	if l.doubleTapped != nil && l.index >= 0 {
		l.doubleTapped(l.index)
	}
}

// SetIndex sets the list position this label currently shows.
func (l *DoubleTapLabel) SetIndex(index int) {
	l.index = index
}

// Index returns the list position this label currently shows.
func (l *DoubleTapLabel) Index() int {
	return l.index
}

// SetSecondaryTapped sets the callback function for right-click (secondary tap) events.
func (l *DoubleTapLabel) SetSecondaryTapped(callback func(index int, pos fyneapp.Position)) {
	l.secondaryTapped = callback
}

// TappedSecondary implements the fyne.SecondaryTappable interface.
func (l *DoubleTapLabel) TappedSecondary(pe *fyneapp.PointEvent) {
	if l.secondaryTapped != nil && l.index >= 0 {
		l.secondaryTapped(l.index, pe.AbsolutePosition)
	}
}
