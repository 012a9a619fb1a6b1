package browser

// ARIA role classification for snapshots. Interactive roles always get
// a ref, content roles only when named, structural roles never.

// IsInteractive reports whether elements of this role accept clicks or
// text input.
func IsInteractive(role string) bool {
	switch role {
	case "button", "link", "textbox", "searchbox",
		"checkbox", "radio", "switch", "slider", "spinbutton",
		"combobox", "listbox", "option",
		"menuitem", "menuitemcheckbox", "menuitemradio",
		"tab", "treeitem":
		return true
	}
	return false
}

// IsContent reports whether this role carries meaningful page content.
func IsContent(role string) bool {
	switch role {
	case "heading", "listitem", "article", "region", "main", "navigation",
		"cell", "gridcell", "columnheader", "rowheader":
		return true
	}
	return false
}

// IsStructural reports whether this role only groups or lays out other
// elements.
func IsStructural(role string) bool {
	switch role {
	case "generic", "group", "list", "table", "row", "rowgroup",
		"grid", "treegrid", "tree", "directory",
		"menu", "menubar", "toolbar", "tablist",
		"document", "application", "presentation", "none":
		return true
	}
	return false
}
