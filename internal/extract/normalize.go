package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ToPlainText renders markup as lower-case text with one trimmed, non-empty
// line per rendered text run. Plain text input passes through the same way.
func ToPlainText(markup string) (string, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var runs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			runs = append(runs, n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Template, atom.Noscript:
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	lines := make([]string, 0, len(runs))
	for _, line := range strings.Split(strings.Join(runs, "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	return strings.ToLower(strings.Join(lines, "\n")), nil
}

// TruncateAtCutoff cuts text at the first occurrence of the first phrase, in
// list order, that the text contains. Text containing none is returned as is.
func TruncateAtCutoff(text string, phrases []string) string {
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if idx := strings.Index(text, phrase); idx >= 0 {
			return text[:idx]
		}
	}
	return text
}

var apostropheReplacer = strings.NewReplacer("’", "'", "‘", "'", "`", "'", "´", "'")

// normalizeApostrophes maps typographic apostrophe variants to '
func normalizeApostrophes(s string) string {
	return apostropheReplacer.Replace(s)
}

// titleCase upper-cases the first letter of each word. A new Caser is built
// per call because Casers keep state between calls.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// possessive rejoins a detached possessive suffix such as "president 's"
var possessive = regexp.MustCompile(`(\w+)\s+'\s*([sS])\b`)

// tokenize splits a product phrase into words, drops punctuation and joins the
// words with single spaces. Apostrophes inside words survive. Standalone
// apostrophes survive only when keepApostrophes is set. Punctuation between
// two digits stays so sizes like 1.5 are not split.
func tokenize(phrase string, keepApostrophes bool) string {
	runes := []rune(normalizeApostrophes(phrase))
	var b strings.Builder
	b.Grow(len(phrase))

	isWordRune := func(i int) bool {
		return i >= 0 && i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]))
	}

	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
			if isWordRune(i-1) && isWordRune(i+1) || keepApostrophes {
				b.WriteRune(r)
			} else if isWordRune(i+1) && (i+2 >= len(runes) || !isWordRune(i+2)) && (runes[i+1] == 's' || runes[i+1] == 'S') {
				// detached possessive like "president 's"
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if unicode.IsDigit(prevRune(runes, i)) && isWordRune(i+1) && unicode.IsDigit(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		default:
			b.WriteRune(' ')
		}
	}

	joined := strings.Join(strings.Fields(b.String()), " ")
	return possessive.ReplaceAllString(joined, "$1'$2")
}

func prevRune(runes []rune, i int) rune {
	if i <= 0 {
		return 0
	}
	return runes[i-1]
}
