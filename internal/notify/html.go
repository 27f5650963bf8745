package notify

import "strings"

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeHTML escapes the three characters Telegram's HTML parse mode treats
// as markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
