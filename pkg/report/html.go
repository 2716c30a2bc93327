package report

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 20px; background-color: #f4f4f4; color: #333; }
main { max-width: 1000px; margin: auto; background-color: #fff; padding: 20px; border-radius: 8px; }
table { border-collapse: collapse; margin-bottom: 1em; }
th, td { border: 1px solid #ddd; padding: 4px 8px; }
pre { background-color: #eee; padding: 10px; border-radius: 4px; overflow-x: auto; }
blockquote { color: #666; border-left: 3px solid #ddd; margin-left: 0; padding-left: 10px; }
</style>
</head>
<body>
<main>
{{.Body}}
</main>
</body>
</html>
`))

// HTML renders the Markdown form through goldmark. Raw HTML in scenario
// content is dropped, not passed through.
func HTML(rep *Report) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert(Markdown(rep), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{rep.Title, template.HTML(body.String())})
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return out.Bytes(), nil
}
