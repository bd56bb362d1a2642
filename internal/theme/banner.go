package theme

import (
	"fmt"
	"io"
	"os"
)

// Banner returns the startup banner with the given version.
func Banner(version string) string {
	const cyan = "\033[36m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	art := "" +
		cyan + "   ╦═╗╦ ╦╔═╗╔═╗╦ ╦╔═╗╦═╗╔╦╗\n" + reset +
		cyan + "   ╠╦╝║ ║║ ╦║ ╦║ ║╠═╣╠╦╝ ║║\n" + reset +
		cyan + "   ╩╚═╚═╝╚═╝╚═╝╚═╝╩ ╩╩╚══╩╝  🛡️\n" + reset +
		yellow + "   ────────────────────────────\n" + reset +
		"   trust checks for \"riddle me this\" replies on X\n"
	if version != "" {
		art += "   " + version + "\n"
	}
	return art
}

// PrintBanner writes the banner to w, or stdout when w is nil.
func PrintBanner(w io.Writer, version string) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprint(w, Banner(version))
}
