// Package filectx manages file context for file-editing subtasks: loading
// what already exists on disk, inferring how new content should be applied,
// and merging new content with old so edits do not clobber files.
package filectx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"aide/internal/fileops"
)

// OperationMode is the strategy for reconciling new file content with
// existing content.
type OperationMode string

const (
	ModeCreate  OperationMode = "create"
	ModeModify  OperationMode = "modify"
	ModeAppend  OperationMode = "append"
	ModeReplace OperationMode = "replace"
	ModeAuto    OperationMode = "auto"
)

// SubTask is a file-editing unit of work. FilePath and FileContent are
// authored by planning; FileExists, OriginalFileContent and (usually)
// OperationMode are filled in by LoadFileContext.
type SubTask struct {
	ID                  string        `json:"id"`
	Description         string        `json:"description,omitempty"`
	FilePath            string        `json:"filePath"`
	FileContent         string        `json:"fileContent"`
	OriginalFileContent string        `json:"originalFileContent,omitempty"`
	FileExists          bool          `json:"fileExists"`
	OperationMode       OperationMode `json:"operationMode,omitempty"`
	PreserveContext     bool          `json:"preserveContext"`
}

// Engine loads file context and merges content for subtasks.
type Engine struct {
	logger *log.Logger
}

// NewEngine creates a file context engine.
func NewEngine() *Engine {
	return &Engine{logger: log.New(os.Stderr, "[filectx] ", log.LstdFlags)}
}

// LoadFileContext inspects the subtask's target file and fills in
// FileExists, OriginalFileContent and, when unset or auto, OperationMode.
func (e *Engine) LoadFileContext(sub *SubTask) error {
	if sub.FilePath == "" {
		return nil
	}

	if !fileops.Exists(sub.FilePath) {
		sub.FileExists = false
		sub.PreserveContext = false
		if sub.OperationMode == "" || sub.OperationMode == ModeAuto {
			sub.OperationMode = ModeCreate
		}
		e.logger.Printf("new file operation: %s", sub.FilePath)
		return nil
	}

	original, err := fileops.ReadText(sub.FilePath)
	if err != nil {
		// Degrade to a create-style write rather than failing the subtask.
		sub.FileExists = false
		sub.PreserveContext = false
		if sub.OperationMode == "" {
			sub.OperationMode = ModeCreate
		}
		return fmt.Errorf("load context for %s: %w", sub.FilePath, err)
	}

	sub.FileExists = true
	sub.OriginalFileContent = original

	if sub.OperationMode == "" || sub.OperationMode == ModeAuto {
		sub.OperationMode = inferMode(sub.Description, sub.FileContent, original)
	}
	if sub.OperationMode == ModeModify || sub.OperationMode == ModeAuto {
		sub.PreserveContext = true
	}

	e.logger.Printf("context loaded for %s: %d bytes, mode=%s", sub.FilePath, len(original), sub.OperationMode)
	return nil
}

// inferMode decides how new content should be applied to an existing file.
// Explicit keywords in the description win; otherwise content-shape
// heuristics apply; the default biases toward preserving existing content.
func inferMode(description, newContent, original string) OperationMode {
	desc := strings.ToLower(description)

	switch {
	case containsAny(desc, "replace", "overwrite", "rewrite"):
		return ModeReplace
	case containsAny(desc, "append", "add to", "add at end"):
		return ModeAppend
	case containsAny(desc, "modify", "update", "change", "edit", "fix"):
		return ModeModify
	}

	if newContent != "" && original != "" {
		if float64(len(newContent)) < float64(len(original))*0.8 {
			return ModeModify
		}
		if hasSignificantOverlap(original, newContent) {
			return ModeModify
		}
		if float64(len(newContent)) > float64(len(original))*1.5 {
			return ModeReplace
		}
	}

	return ModeModify
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// hasSignificantOverlap reports whether more than 20% of the new content's
// non-trivial lines (length > 10) appear verbatim in the original.
func hasSignificantOverlap(original, newContent string) bool {
	if len(original) < 50 {
		return false
	}

	originalLines := make(map[string]bool)
	for _, line := range strings.Split(original, "\n") {
		originalLines[strings.TrimSpace(line)] = true
	}

	newLines := strings.Split(newContent, "\n")
	matching := 0
	for _, line := range newLines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 10 && originalLines[trimmed] {
			matching++
		}
	}

	threshold := float64(len(newLines)) * 0.2
	if threshold < 1 {
		threshold = 1
	}
	return float64(matching) > threshold
}

// MergeContent combines the subtask's new content with its original content
// according to the operation mode. A subtask whose file did not exist takes
// the new content verbatim.
func (e *Engine) MergeContent(sub *SubTask) string {
	if !sub.FileExists {
		return sub.FileContent
	}
	return Merge(sub.OperationMode, sub.OriginalFileContent, sub.FileContent, sub.FilePath, sub.Description)
}

// Merge applies one operation mode to an (original, new) content pair.
// REPLACE and CREATE take the new content exactly; APPEND is exactly
// original + "\n" + new; MODIFY and AUTO merge heuristically.
func Merge(mode OperationMode, original, newContent, filePath, description string) string {
	switch mode {
	case ModeReplace, ModeCreate:
		return newContent
	case ModeAppend:
		return original + "\n" + newContent
	default: // modify, auto
		if original == "" {
			return newContent
		}
		if newContent == "" {
			return original
		}
		return intelligentMerge(original, newContent, filePath, description)
	}
}

// CreateBackup copies the file to path+".backup_<unixMillis>". A missing
// file is a successful no-op.
func (e *Engine) CreateBackup(path string) (string, error) {
	if !fileops.Exists(path) {
		return "", nil
	}
	backupPath := fmt.Sprintf("%s.backup_%d", path, time.Now().UnixMilli())
	if err := fileops.Copy(path, backupPath); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	e.logger.Printf("created backup: %s", backupPath)
	return backupPath, nil
}
