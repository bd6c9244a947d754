package models

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Extensions Obsidian treats as attachments rather than notes.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".svg": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mkv": true, ".mov": true,
	".wav": true, ".flac": true, ".ogg": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true,
}

// IsBinaryFile decides whether a file is an attachment (binary) or a note.
// Attachments cannot carry an embedded sync tag, so they are tracked through
// the sidecar instead.
func IsBinaryFile(path string, content []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if binaryExtensions[ext] {
		return true
	}
	if ext == ".md" || ext == ".txt" || ext == ".canvas" {
		return false
	}

	if len(content) == 0 {
		return false
	}

	checkLen := len(content)
	if checkLen > 8192 {
		checkLen = 8192
	}
	if bytes.IndexByte(content[:checkLen], 0) != -1 {
		return true
	}

	nonPrintable := 0
	for i := 0; i < checkLen; i++ {
		b := content[i]
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(checkLen) > 0.3
}
