package storage

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"nexus/store"
)

// mixedScanMaxDepth bounds the breadth-first classification scan. Deeper
// than the structured-data discovery because foreign exports nest media
// folders aggressively.
const mixedScanMaxDepth = 8

// ImportedImageTag marks notes created from images that could not be
// associated with any other note.
const ImportedImageTag = "imagem-importada"

// fileClass categorizes a file for heuristic import.
type fileClass int

const (
	classOther fileClass = iota
	classText
	classMarkdown
	classImage
	classVideo
	classDocument
	classArchive
	classHTML
)

var extensionClasses = map[string]fileClass{
	".txt":      classText,
	".md":       classMarkdown,
	".markdown": classMarkdown,
	".html":     classHTML,
	".htm":      classHTML,
	".png":      classImage,
	".jpg":      classImage,
	".jpeg":     classImage,
	".gif":      classImage,
	".webp":     classImage,
	".bmp":      classImage,
	".svg":      classImage,
	".mp4":      classVideo,
	".mov":      classVideo,
	".avi":      classVideo,
	".mkv":      classVideo,
	".webm":     classVideo,
	".doc":      classDocument,
	".docx":     classDocument,
	".xls":      classDocument,
	".xlsx":     classDocument,
	".ppt":      classDocument,
	".pptx":     classDocument,
	".pdf":      classDocument,
	".odt":      classDocument,
	".zip":      classArchive,
	".rar":      classArchive,
	".7z":       classArchive,
	".tar":      classArchive,
	".gz":       classArchive,
}

func classify(name string) fileClass {
	return extensionClasses[strings.ToLower(filepath.Ext(name))]
}

// classifiedFiles holds the outcome of the classification scan.
type classifiedFiles struct {
	texts     []string // includes markdown
	images    []string
	html      []string
	videos    []string
	documents []string
	archives  []string
}

// classifyTree walks the import root breadth-first up to mixedScanMaxDepth,
// skipping hidden and dependency-manager directories.
func classifyTree(root string) *classifiedFiles {
	result := &classifiedFiles{}

	type queued struct {
		dir   string
		depth int
	}
	queue := []queued{{root, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(current.dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			path := filepath.Join(current.dir, name)

			if entry.IsDir() {
				if skipDir(name) || current.depth+1 >= mixedScanMaxDepth {
					continue
				}
				queue = append(queue, queued{path, current.depth + 1})
				continue
			}

			switch classify(name) {
			case classText, classMarkdown:
				result.texts = append(result.texts, path)
			case classImage:
				result.images = append(result.images, path)
			case classHTML:
				result.html = append(result.html, path)
			case classVideo:
				result.videos = append(result.videos, path)
			case classDocument:
				result.documents = append(result.documents, path)
			case classArchive:
				result.archives = append(result.archives, path)
			}
		}
	}

	return result
}

// BuildNotesFromMixedFiles reconstructs notes from an arbitrary file set
// when no structured JSON data is present. One note is built per HTML file
// and per plain-text file; images are associated to notes by filename,
// with unmatched images attached to the first HTML-derived note or turned
// into standalone tagged notes. Videos, office documents, and nested
// archives are skipped and reported as warnings. The result is always a
// structurally valid data set, even for an empty root.
func BuildNotesFromMixedFiles(root string) (*LocalStorageData, error) {
	files := classifyTree(root)
	data := NewLocalStorageData()

	var warnings []string

	// HTML files first, so unmatched images have an HTML-derived note
	// to land on.
	htmlNoteCount := 0
	for _, path := range files.html {
		raw, err := ReadTextFileSmart(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Unreadable HTML file skipped: %s", filepath.Base(path)))
			continue
		}
		text, images := convertHTML(string(raw))
		note := store.Note{
			ID:      store.GenerateID(),
			Title:   baseTitle(path),
			Content: text,
			Format:  "text",
			Images:  images,
		}
		data.Notes = append(data.Notes, note)
		htmlNoteCount++
	}

	for _, path := range files.texts {
		raw, err := ReadTextFileSmart(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Unreadable text file skipped: %s", filepath.Base(path)))
			continue
		}
		format := "text"
		if classify(path) == classMarkdown {
			format = "markdown"
		}
		data.Notes = append(data.Notes, store.Note{
			ID:      store.GenerateID(),
			Title:   baseTitle(path),
			Content: string(raw),
			Format:  format,
		})
	}

	// Associate images: exact normalized-name match first, then substring
	// containment in either direction.
	var unmatched []string
	for _, imgPath := range files.images {
		if note := matchNoteForImage(data.Notes, imgPath); note != nil {
			if img, ok := loadImage(imgPath); ok {
				note.Images = append(note.Images, img)
			}
			continue
		}
		unmatched = append(unmatched, imgPath)
	}

	if len(unmatched) > 0 {
		if len(data.Notes) > 0 {
			// All leftovers land on the first note, which is HTML-derived
			// whenever one exists.
			for _, imgPath := range unmatched {
				if img, ok := loadImage(imgPath); ok {
					data.Notes[0].Images = append(data.Notes[0].Images, img)
				}
			}
		} else {
			for _, imgPath := range unmatched {
				img, ok := loadImage(imgPath)
				if !ok {
					continue
				}
				data.Notes = append(data.Notes, store.Note{
					ID:     store.GenerateID(),
					Title:  baseTitle(imgPath),
					Tags:   []string{ImportedImageTag},
					Format: "text",
					Images: []store.NoteImage{img},
				})
			}
		}
	}

	// Skipped media and documents are reported, never imported.
	for _, path := range files.videos {
		warnings = append(warnings, fmt.Sprintf("Video file ignored: %s", filepath.Base(path)))
	}
	for _, path := range files.documents {
		warnings = append(warnings, fmt.Sprintf("Document file ignored: %s", filepath.Base(path)))
	}
	for _, path := range files.archives {
		warnings = append(warnings, fmt.Sprintf("Nested archive ignored: %s", filepath.Base(path)))
	}

	skipped := len(files.videos) + len(files.documents) + len(files.archives)
	if skipped > 0 {
		warnings = append([]string{fmt.Sprintf("%d file(s) were skipped during import", skipped)}, warnings...)
	}

	if len(warnings) > 0 {
		data.Settings["importWarnings"] = warnings
	}
	data.Settings["importSkippedCount"] = skipped

	return data, nil
}

// baseTitle derives a note title from a file path.
func baseTitle(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// normalizeName lowercases and strips the extension for filename matching.
func normalizeName(name string) string {
	name = strings.ToLower(filepath.Base(name))
	return strings.TrimSpace(strings.TrimSuffix(name, filepath.Ext(name)))
}

// matchNoteForImage finds the note an image belongs to: equal normalized
// names win, then substring containment in either direction.
func matchNoteForImage(notes []store.Note, imgPath string) *store.Note {
	imgName := normalizeName(imgPath)
	if imgName == "" {
		return nil
	}

	for i := range notes {
		if normalizeName(notes[i].Title) == imgName {
			return &notes[i]
		}
	}
	for i := range notes {
		title := normalizeName(notes[i].Title)
		if title == "" {
			continue
		}
		if strings.Contains(title, imgName) || strings.Contains(imgName, title) {
			return &notes[i]
		}
	}
	return nil
}

var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
}

// loadImage reads an image file into an inline data URL.
func loadImage(path string) (store.NoteImage, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return store.NoteImage{}, false
	}

	mime := imageMimeTypes[strings.ToLower(filepath.Ext(path))]
	if mime == "" {
		mime = "application/octet-stream"
	}

	return store.NoteImage{
		Name: filepath.Base(path),
		Data: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(raw)),
	}, true
}

// blockElements break text onto a new line during HTML conversion.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
	"ul": true, "ol": true, "table": true,
}

// convertHTML turns an HTML document into plain text, dropping script,
// style and head content, converting block elements to newlines, and
// extracting inline data-URL images.
func convertHTML(source string) (string, []store.NoteImage) {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		// Undecodable markup degrades to the raw source text.
		return source, nil
	}

	var sb strings.Builder
	var images []store.NoteImage

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "img":
				if img, ok := extractInlineImage(n); ok {
					images = append(images, img)
				}
				return
			}
			if blockElements[n.Data] {
				sb.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			sb.WriteString("\n")
		}
	}
	walk(doc)

	return collapseBlankLines(sb.String()), images
}

// extractInlineImage captures an <img> carrying an inline data URL.
func extractInlineImage(n *html.Node) (store.NoteImage, bool) {
	var src, alt string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "src":
			src = attr.Val
		case "alt":
			alt = attr.Val
		}
	}
	if !strings.HasPrefix(src, "data:") {
		return store.NoteImage{}, false
	}
	if alt == "" {
		alt = "embedded-image"
	}
	return store.NoteImage{Name: alt, Data: src}, true
}

// collapseBlankLines trims runs of blank lines left by block conversion.
func collapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, trimmed)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
