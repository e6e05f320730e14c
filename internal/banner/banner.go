package banner

import (
	"stagehand/internal/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
     _                   _                     _
 ___| |_ __ _  __ _  ___| |__   __ _ _ __   __| |
/ __| __/ _' |/ _' |/ _ \ '_ \ / _' | '_ \ / _' |
\__ \ || (_| | (_| |  __/ | | | (_| | | | | (_| |
|___/\__\__,_|\__, |\___|_| |_|\__,_|_| |_|\__,_|
              |___/                              `

	return "\n" + style.Render(ascii) + "\n"
}
