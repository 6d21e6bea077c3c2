package export

// exportHTML returns the rendered document as a standalone HTML file.
func exportHTML(html string, title string) (*Result, error) {
	return &Result{
		Data:     []byte(html),
		Filename: sanitizeFilename(title) + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}
