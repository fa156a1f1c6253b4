package board

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Meme note content may carry a style suffix in the form "(Style: <text>)".
// The suffix is stripped before display and parsed before generation.

var styleSuffixRe = regexp.MustCompile(`\s*\(Style:\s*([^)]*)\)\s*$`)

// ParseStyle splits content into display text and the embedded style, if any.
func ParseStyle(content string) (text, style string) {
	m := styleSuffixRe.FindStringSubmatchIndex(content)
	if m == nil {
		return content, ""
	}
	text = strings.TrimRight(content[:m[0]], " ")
	style = strings.TrimSpace(content[m[2]:m[3]])
	return text, style
}

// WithStyle embeds a style into content. Empty style returns content as-is.
func WithStyle(text, style string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		return text
	}
	return fmt.Sprintf("%s (Style: %s)", text, style)
}

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
var rgbaColorRe = regexp.MustCompile(`^rgba\(\s*\d{1,3}\s*,\s*\d{1,3}\s*,\s*\d{1,3}\s*,\s*(0|1|0?\.\d+)\s*\)$`)

// ValidColor reports whether s is one of the two persisted color forms:
// "#rrggbb" or "rgba(r,g,b,a)".
func ValidColor(s string) bool {
	return hexColorRe.MatchString(s) || rgbaColorRe.MatchString(s)
}

// ColorWithOpacity converts a hex color to the rgba form with the given
// alpha. Colors already in rgba form get their alpha replaced. Invalid input
// is returned unchanged.
func ColorWithOpacity(color string, alpha float64) string {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	if hexColorRe.MatchString(color) {
		r, _ := strconv.ParseUint(color[1:3], 16, 8)
		g, _ := strconv.ParseUint(color[3:5], 16, 8)
		b, _ := strconv.ParseUint(color[5:7], 16, 8)
		return fmt.Sprintf("rgba(%d, %d, %d, %s)", r, g, b, formatAlpha(alpha))
	}
	if m := regexp.MustCompile(`^rgba\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,`).FindStringSubmatch(color); m != nil {
		return fmt.Sprintf("rgba(%s, %s, %s, %s)", m[1], m[2], m[3], formatAlpha(alpha))
	}
	return color
}

func formatAlpha(alpha float64) string {
	s := strconv.FormatFloat(alpha, 'f', -1, 64)
	return s
}
