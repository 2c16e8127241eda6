package orchestrator

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"checkline/internal/stack"
)

// Workflow document rendered onto the task branch. The shapes only carry
// what the verification workflow needs; field order follows struct order.
type workflowDoc struct {
	Name string                 `yaml:"name"`
	On   workflowOn             `yaml:"on"`
	Jobs map[string]workflowJob `yaml:"jobs"`
}

type workflowOn struct {
	WorkflowDispatch workflowDispatch `yaml:"workflow_dispatch"`
}

type workflowDispatch struct {
	Inputs map[string]workflowInput `yaml:"inputs"`
}

type workflowInput struct {
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

type workflowJob struct {
	RunsOn string         `yaml:"runs-on"`
	Steps  []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Run  string            `yaml:"run,omitempty"`
}

// WorkflowYAML renders the verification workflow for a scaffold. The same
// document serves both deployment shapes: dispatched on the task branch it
// checks out its own ref, dispatched from the default branch it checks out
// the branch input.
func WorkflowYAML(workflowFile string, sc stack.Scaffold) ([]byte, error) {
	name := strings.TrimSuffix(workflowFile, ".yml")
	name = strings.TrimSuffix(name, ".yaml")
	steps := []workflowStep{
		{
			Name: "Checkout task branch",
			Uses: "actions/checkout@v4",
			With: map[string]string{"ref": "${{ inputs.branch || github.ref_name }}"},
		},
	}
	if sc.InstallCommand != "" {
		steps = append(steps, workflowStep{Name: "Install", Run: sc.InstallCommand})
	}
	steps = append(steps, workflowStep{Name: "Verify", Run: sc.TestCommand})
	doc := workflowDoc{
		Name: name,
		On: workflowOn{WorkflowDispatch: workflowDispatch{Inputs: map[string]workflowInput{
			"projectId": {Description: "Project identifier", Required: true},
			"taskId":    {Description: "Task identifier", Required: true},
			"branch":    {Description: "Task branch to verify", Required: true},
		}}},
		Jobs: map[string]workflowJob{
			"verify": {RunsOn: "ubuntu-latest", Steps: steps},
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	return out, nil
}
