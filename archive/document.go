package archive

import (
	"fmt"
	"sort"
)

// Folder is one archive directory as listed by the endpoint.
type Folder struct {
	Name  string   `json:"folderName"`
	Files []string `json:"files"`
}

// Latest returns the file that sorts last by name. Archive files are named by
// date, so this is the newest one.
func (f Folder) Latest() (string, bool) {
	if len(f.Files) == 0 {
		return "", false
	}
	files := append([]string(nil), f.Files...)
	sort.Strings(files)
	return files[len(files)-1], true
}

// Document is the result of a file fetch. A failed fetch is still a Document:
// Failed is set and Text carries the reason, ready to show in place of the
// file.
type Document struct {
	Name   string `json:"name"`
	Text   string `json:"text"`
	Failed bool   `json:"failed,omitempty"`
}

// Pseudo-document names for failures.
const (
	ErrorDocumentName      = "Error"
	FetchErrorDocumentName = "Fetch Error"
)

func errorDocument(msg string) Document {
	return Document{Name: ErrorDocumentName, Text: "Error: " + msg, Failed: true}
}

func fetchErrorDocument(err error) Document {
	return Document{Name: FetchErrorDocumentName, Text: fmt.Sprintf("Failed to fetch file: %v", err), Failed: true}
}
