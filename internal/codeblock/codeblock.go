// Package codeblock pulls fenced code blocks out of completion text so they
// can be delivered as named file attachments. The model is instructed to
// start each block with a "# filename: name.ext" line; blocks without one
// get a generated fallback name.
package codeblock

import (
	"fmt"
	"regexp"
)

// File is one extracted code block with its resolved file name.
type File struct {
	Name    string
	Content string
}

var (
	fenceRe    = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+.-]*)\n(.*?)\n```")
	filenameRe = regexp.MustCompile(`#\s*filename:\s*([\w.\-]+)`)
)

// Extract returns every fenced code block in text, in order of appearance.
func Extract(text string) []File {
	var files []File
	for _, match := range fenceRe.FindAllStringSubmatch(text, -1) {
		content := match[1]
		name := fmt.Sprintf("generated_file_%d.py", len(files)+1)
		if m := filenameRe.FindStringSubmatch(content); m != nil {
			name = m[1]
		}
		files = append(files, File{Name: name, Content: content})
	}
	return files
}
