package indicator

import "strings"

// Palette holds the notification colors for one display theme.
type Palette struct {
	Recording  string
	Processing string
	Error      string
	Done       string
}

var palettes = map[string]Palette{
	"dark": {
		Recording:  "rgb(89b4fa)",
		Processing: "rgb(cba6f7)",
		Error:      "rgb(f38ba8)",
		Done:       "rgb(a6e3a1)",
	},
	"light": {
		Recording:  "rgb(1e66f5)",
		Processing: "rgb(8839ef)",
		Error:      "rgb(d20f39)",
		Done:       "rgb(40a02b)",
	},
}

// NormalizeTheme lowercases a theme name and maps unknown names to dark.
func NormalizeTheme(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := palettes[name]; ok {
		return name
	}
	return "dark"
}

// PaletteFor returns the palette for a theme name.
func PaletteFor(name string) Palette {
	return palettes[NormalizeTheme(name)]
}
