package ui

// MenuHint describes a keyboard shortcut for display in the status bar.
type MenuHint struct {
	Key         string
	Description string
}

// Component is implemented by all top-level views.
type Component interface {
	Name() string
	Hints() []MenuHint
}
