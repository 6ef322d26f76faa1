package filectx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFileContextMissingFile(t *testing.T) {
	e := NewEngine()
	sub := &SubTask{FilePath: filepath.Join(t.TempDir(), "new.txt"), FileContent: "hello"}

	if err := e.LoadFileContext(sub); err != nil {
		t.Fatalf("LoadFileContext: %v", err)
	}
	if sub.FileExists {
		t.Error("FileExists = true, want false")
	}
	if sub.OperationMode != ModeCreate {
		t.Errorf("OperationMode = %q, want create", sub.OperationMode)
	}
	if sub.PreserveContext {
		t.Error("PreserveContext = true, want false")
	}
}

func TestLoadFileContextExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.go")
	original := strings.Repeat("line of existing code here\n", 10)
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := NewEngine()
	sub := &SubTask{
		FilePath:    path,
		FileContent: "short",
		Description: "update the handler",
	}
	if err := e.LoadFileContext(sub); err != nil {
		t.Fatalf("LoadFileContext: %v", err)
	}
	if !sub.FileExists {
		t.Fatal("FileExists = false, want true")
	}
	if sub.OriginalFileContent != original {
		t.Error("OriginalFileContent not loaded")
	}
	if sub.OperationMode != ModeModify {
		t.Errorf("OperationMode = %q, want modify (keyword)", sub.OperationMode)
	}
	if !sub.PreserveContext {
		t.Error("PreserveContext = false, want true for modify")
	}
}

func TestLoadFileContextKeepsExplicitMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := NewEngine()
	sub := &SubTask{FilePath: path, FileContent: "x", OperationMode: ModeReplace}
	if err := e.LoadFileContext(sub); err != nil {
		t.Fatalf("LoadFileContext: %v", err)
	}
	if sub.OperationMode != ModeReplace {
		t.Errorf("OperationMode = %q, explicit replace must survive", sub.OperationMode)
	}
}

func TestInferMode(t *testing.T) {
	long := strings.Repeat("a line of sufficiently long content\n", 20)

	tests := []struct {
		name        string
		description string
		newContent  string
		original    string
		want        OperationMode
	}{
		{name: "replace keyword", description: "Replace the config entirely", newContent: "x", original: long, want: ModeReplace},
		{name: "overwrite keyword", description: "overwrite file", newContent: "x", original: long, want: ModeReplace},
		{name: "append keyword", description: "add to the end of the log", newContent: "x", original: long, want: ModeAppend},
		{name: "modify keyword", description: "fix the bug", newContent: "x", original: long, want: ModeModify},
		{name: "shorter content means modify", newContent: "tiny", original: long, want: ModeModify},
		{name: "much longer content means replace", newContent: strings.Repeat("completely new stuff\n", 60), original: long, want: ModeReplace},
		{name: "default is modify", newContent: long + "extra", original: long + "other", want: ModeModify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inferMode(tt.description, tt.newContent, tt.original)
			if got != tt.want {
				t.Errorf("inferMode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInferModeOverlap(t *testing.T) {
	original := strings.Repeat("some shared long line here\n", 10)
	// New content reuses most of the original's lines verbatim.
	newContent := original + strings.Repeat("a freshly added line\n", 2)

	if got := inferMode("", newContent, original); got != ModeModify {
		t.Errorf("inferMode with heavy overlap = %q, want modify", got)
	}
}

func TestCreateBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := NewEngine()
	backup, err := e.CreateBackup(path)
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if !strings.Contains(backup, ".backup_") {
		t.Errorf("backup path = %q, want .backup_ suffix", backup)
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("backup content = %q, want %q", data, "payload")
	}
}

func TestCreateBackupMissingFileIsNoop(t *testing.T) {
	e := NewEngine()
	backup, err := e.CreateBackup(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if backup != "" {
		t.Errorf("backup path = %q, want empty for missing file", backup)
	}
}
