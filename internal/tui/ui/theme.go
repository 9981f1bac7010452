package ui

import "github.com/gdamore/tcell/v2"

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TableHeaderFg    tcell.Color
	TableHeaderBg    tcell.Color
	TableCursorFg    tcell.Color
	TableCursorBg    tcell.Color
	MenuKeyColor     tcell.Color
	TitleColor       tcell.Color
	UnreadColor      tcell.Color
	PriorityColor    tcell.Color
	FlashInfoColor   tcell.Color
	FlashErrColor    tcell.Color
	StatusLiveColor  tcell.Color
	StatusWarnColor  tcell.Color
	StatusDownColor  tcell.Color
}

// DefaultTheme returns the dark operator-console theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorLightGray,
		BorderColor:      tcell.ColorTeal,
		BorderFocusColor: tcell.ColorAqua,
		TableHeaderFg:    tcell.ColorWhite,
		TableHeaderBg:    tcell.ColorBlack,
		TableCursorFg:    tcell.ColorBlack,
		TableCursorBg:    tcell.ColorTeal,
		MenuKeyColor:     tcell.ColorAqua,
		TitleColor:       tcell.ColorOrange,
		UnreadColor:      tcell.ColorYellow,
		PriorityColor:    tcell.ColorOrangeRed,
		FlashInfoColor:   tcell.ColorNavajoWhite,
		FlashErrColor:    tcell.ColorOrangeRed,
		StatusLiveColor:  tcell.ColorGreen,
		StatusWarnColor:  tcell.ColorOrange,
		StatusDownColor:  tcell.ColorRed,
	}
}
