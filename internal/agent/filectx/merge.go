package filectx

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Language families for merge dispatch. Brace languages get new definitions
// inserted before the file's final closing brace; Python-style languages get
// them appended under a comment header.
var (
	braceExtensions  = map[string]bool{"java": true, "js": true, "ts": true, "c": true, "h": true, "cpp": true, "cs": true, "php": true, "go": true, "rs": true}
	pythonExtensions = map[string]bool{"py": true, "rb": true}
	configExtensions = map[string]bool{"properties": true, "json": true, "yml": true, "yaml": true, "xml": true, "conf": true, "cfg": true, "ini": true, "toml": true}
	textExtensions   = map[string]bool{"txt": true, "md": true, "rst": true, "log": true, "csv": true}
)

// Definition detectors per language family.
var (
	pythonDefPattern = regexp.MustCompile(`(?m)^(def|class)\s+\w+`)
	braceDefPattern  = regexp.MustCompile(`(?m)^\s*(public|private|protected|static|func|fn|function|class|interface|enum|struct|impl)\b`)
)

// intelligentMerge combines content for MODIFY/AUTO edits, dispatching on
// the target file's extension.
func intelligentMerge(original, newContent, filePath, description string) string {
	ext := fileExtension(filePath)

	switch {
	case pythonExtensions[ext]:
		return mergePythonStyle(original, newContent, description)
	case braceExtensions[ext]:
		return mergeBraceStyle(original, newContent, description)
	case ext == "json":
		return mergeJSON(original, newContent)
	case configExtensions[ext]:
		return original + "\n" + newContent
	case textExtensions[ext]:
		return original + "\n\n" + newContent
	default:
		return original + "\n\n" + newContent
	}
}

// mergePythonStyle appends new function/class definitions under a comment
// header; content without detectable definitions gets a plain separator.
func mergePythonStyle(original, newContent, description string) string {
	if pythonDefPattern.MatchString(newContent) {
		header := "\n\n"
		if description != "" {
			header += "# " + description + "\n"
		}
		return original + header + newContent
	}
	return original + "\n\n" + newContent
}

// mergeBraceStyle inserts new definitions before the original's final
// closing brace so they land inside the enclosing class/namespace body.
func mergeBraceStyle(original, newContent, description string) string {
	if !braceDefPattern.MatchString(newContent) {
		return original + "\n\n" + newContent
	}

	lastBrace := strings.LastIndex(original, "}")
	if lastBrace == -1 {
		header := "\n\n"
		if description != "" {
			header += "// " + description + "\n"
		}
		return original + header + newContent
	}

	var comment string
	if description != "" {
		comment = "    // " + description + "\n"
	}
	return original[:lastBrace] + "\n" + comment + newContent + "\n" + original[lastBrace:]
}

// mergeJSON deliberately avoids parsing: new entries are carried as a
// trailing comment block so the original document stays untouched.
func mergeJSON(original, newContent string) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n// Additional configuration:\n")
	for _, line := range strings.Split(newContent, "\n") {
		sb.WriteString("// ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func fileExtension(path string) string {
	ext := filepath.Ext(path)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
