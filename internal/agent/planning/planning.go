// Package planning turns a model's structured plan answer into an ordered
// execution strategy of file-editing subtasks.
package planning

import (
	"fmt"
	"strings"

	"aide/internal/agent/filectx"
)

// Strategy is an ordered execution plan. It is immutable once built;
// accessors return the underlying slices which callers must not mutate.
type Strategy struct {
	executionOrder []*filectx.SubTask
	parallelGroups [][]string
	riskMitigation map[string]string
	toolSelection  map[string]string
	checkpoints    []string
}

// ExecutionOrder returns the subtasks in execution order.
func (s *Strategy) ExecutionOrder() []*filectx.SubTask { return s.executionOrder }

// ParallelGroups returns sets of subtask ids eligible to run concurrently.
func (s *Strategy) ParallelGroups() [][]string { return s.parallelGroups }

// RiskMitigation returns the risk note for a subtask id, if any.
func (s *Strategy) RiskMitigation(id string) (string, bool) {
	v, ok := s.riskMitigation[id]
	return v, ok
}

// ToolSelection returns the tool chosen for a subtask id, if any.
func (s *Strategy) ToolSelection(id string) (string, bool) {
	v, ok := s.toolSelection[id]
	return v, ok
}

// Checkpoints returns the subtask ids marked as checkpoints.
func (s *Strategy) Checkpoints() []string { return s.checkpoints }

// Parse builds a Strategy from the labeled plan format the planner prompt
// requests from the model:
//
//	SUBTASK: <id>
//	DESCRIPTION: <free text>
//	FILE_PATH: <path>
//	MODE: create|modify|append|replace|auto
//	GROUP: <parallel group name>
//	RISK: <mitigation note>
//	TOOL: <tool name>
//	CHECKPOINT: yes
//	CONTENT:
//	<file content lines>
//	END_CONTENT
//
// Unknown labels are ignored so the grammar can grow without breaking old
// parsers.
func Parse(planText string) (*Strategy, error) {
	s := &Strategy{
		riskMitigation: make(map[string]string),
		toolSelection:  make(map[string]string),
	}
	groups := make(map[string][]string)
	var groupOrder []string

	var current *filectx.SubTask
	var content strings.Builder
	inContent := false

	flush := func() {
		if current == nil {
			return
		}
		current.FileContent = strings.TrimSuffix(content.String(), "\n")
		s.executionOrder = append(s.executionOrder, current)
		current = nil
		content.Reset()
	}

	for _, line := range strings.Split(planText, "\n") {
		trimmed := strings.TrimSpace(line)

		if inContent {
			if trimmed == "END_CONTENT" {
				inContent = false
				continue
			}
			content.WriteString(line)
			content.WriteString("\n")
			continue
		}

		label, value, ok := splitLabel(trimmed)
		if !ok {
			continue
		}

		switch label {
		case "SUBTASK":
			flush()
			current = &filectx.SubTask{ID: value}
		case "DESCRIPTION":
			if current != nil {
				current.Description = value
			}
		case "FILE_PATH":
			if current != nil {
				current.FilePath = value
			}
		case "MODE":
			if current != nil {
				current.OperationMode = filectx.OperationMode(strings.ToLower(value))
			}
		case "GROUP":
			if current != nil {
				if _, seen := groups[value]; !seen {
					groupOrder = append(groupOrder, value)
				}
				groups[value] = append(groups[value], current.ID)
			}
		case "RISK":
			if current != nil {
				s.riskMitigation[current.ID] = value
			}
		case "TOOL":
			if current != nil {
				s.toolSelection[current.ID] = value
			}
		case "CHECKPOINT":
			if current != nil && strings.EqualFold(value, "yes") {
				s.checkpoints = append(s.checkpoints, current.ID)
			}
		case "CONTENT":
			inContent = true
		}
	}
	flush()

	if len(s.executionOrder) == 0 {
		return nil, fmt.Errorf("plan contains no subtasks")
	}
	for i, sub := range s.executionOrder {
		if sub.ID == "" {
			return nil, fmt.Errorf("subtask %d has no id", i)
		}
	}

	for _, name := range groupOrder {
		s.parallelGroups = append(s.parallelGroups, groups[name])
	}
	return s, nil
}

// splitLabel splits "LABEL: value" lines; CONTENT has no value.
func splitLabel(line string) (label, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	label = strings.TrimSpace(line[:idx])
	if label != strings.ToUpper(label) {
		return "", "", false
	}
	return label, strings.TrimSpace(line[idx+1:]), true
}

// Prompt returns the planning prompt for a goal, instructing the model to
// answer in the labeled format Parse understands.
func Prompt(goal string, files []string) string {
	var sb strings.Builder
	sb.WriteString("Break the following goal into file-editing subtasks.\n\n")
	sb.WriteString("GOAL:\n")
	sb.WriteString(goal)
	sb.WriteString("\n\n")
	if len(files) > 0 {
		sb.WriteString("RELEVANT FILES:\n")
		for _, f := range files {
			sb.WriteString("- " + f + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Answer with one block per subtask, nothing else:\n")
	sb.WriteString("SUBTASK: <short-id>\nDESCRIPTION: <what and why>\nFILE_PATH: <path>\n")
	sb.WriteString("MODE: create|modify|append|replace|auto\nGROUP: <parallel group, optional>\n")
	sb.WriteString("RISK: <mitigation, optional>\nTOOL: <tool name, optional>\nCHECKPOINT: yes|no\n")
	sb.WriteString("CONTENT:\n<file content>\nEND_CONTENT\n")
	return sb.String()
}
