package document

import (
	"regexp"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

var excessiveLinesRe = regexp.MustCompile(`\n{4,}`)

// convertHTML flattens an HTML document to markdown. The GitHub Flavored
// plugin renders <table> elements as pipe tables, including the synthesized
// separator row and cell alignment markers.
func convertHTML(data []byte) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	markdown, err := converter.ConvertString(string(data))
	if err != nil {
		return "", err
	}
	return excessiveLinesRe.ReplaceAllString(markdown, "\n\n\n"), nil
}
