package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/coxyhq/coxy/theme"
)

var (
	Name        = "coxy"
	ShortName   = "coxy"
	Authors     = "The coxy authors"
	Description = "One seat per boat - an adaptive reliability proxy for single-tenant LLM backends"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
)

const (
	GithubHomeText = "github.com/coxyhq/coxy"
	GithubHomeUri  = "https://github.com/coxyhq/coxy"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
  ██████╗ ██████╗ ██╗  ██╗██╗   ██╗
 ██╔════╝██╔═══██╗╚██╗██╔╝╚██╗ ██╔╝
 ██║     ██║   ██║ ╚███╔╝  ╚████╔╝
 ██║     ██║   ██║ ██╔██╗   ╚██╔╝
 ╚██████╗╚██████╔╝██╔╝ ██╗   ██║
  ╚═════╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝` + "\n"))
	b.WriteString(" ")
	b.WriteString(theme.StyleUrl(GithubHomeText))
	b.WriteString(" ")
	b.WriteString(theme.ColourVersion(Version))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s", Date))
	}

	vlog.Println(b.String())
}
