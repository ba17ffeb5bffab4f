package job

import "encoding/json"

// Jobspec V1 wire structures, matching what the scheduler's submit tool
// reads on stdin.
type jobspec struct {
	Version    int            `json:"version"`
	Resources  []resourceSpec `json:"resources"`
	Tasks      []taskSpec     `json:"tasks"`
	Attributes attributeSpec  `json:"attributes"`
}

type resourceSpec struct {
	Type      string         `json:"type"`
	Count     int            `json:"count"`
	Label     string         `json:"label,omitempty"`
	Exclusive bool           `json:"exclusive,omitempty"`
	With      []resourceSpec `json:"with,omitempty"`
}

type taskSpec struct {
	Command []string       `json:"command"`
	Slot    string         `json:"slot"`
	Count   map[string]int `json:"count"`
}

type attributeSpec struct {
	System systemSpec `json:"system"`
	User   string     `json:"user,omitempty"`
}

type systemSpec struct {
	Duration    int               `json:"duration"`
	Cwd         string            `json:"cwd,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Shell       *shellSpec        `json:"shell,omitempty"`
}

type shellSpec struct {
	Options map[string]string `json:"options"`
}

// Jobspec serializes the descriptor into the scheduler's native submission
// format. encoding/json emits map keys sorted, so shell options and the
// environment serialize deterministically; the scheduler treats both as sets.
func (d Descriptor) Jobspec() ([]byte, error) {
	tasks := d.NumTasks
	if tasks < 1 {
		tasks = 1
	}
	cores := d.CoresPerTask
	if cores < 1 {
		cores = 1
	}

	slot := resourceSpec{
		Type:  "slot",
		Count: tasks,
		Label: "task",
		With: []resourceSpec{
			{Type: "core", Count: cores},
		},
	}
	if d.GPUsPerTask > 0 {
		slot.With = append(slot.With, resourceSpec{Type: "gpu", Count: d.GPUsPerTask})
	}

	resources := []resourceSpec{slot}
	if d.NumNodes > 0 {
		resources = []resourceSpec{{
			Type:      "node",
			Count:     d.NumNodes,
			Exclusive: d.Exclusive,
			With:      []resourceSpec{slot},
		}}
	}

	system := systemSpec{
		Duration:    d.Duration,
		Cwd:         d.Workdir,
		Environment: d.Environment,
	}
	if len(d.Options) > 0 {
		system.Shell = &shellSpec{Options: d.Options}
	}

	spec := jobspec{
		Version:   1,
		Resources: resources,
		Tasks: []taskSpec{{
			Command: d.Argv,
			Slot:    "task",
			Count:   map[string]int{"per_slot": 1},
		}},
		Attributes: attributeSpec{
			System: system,
			User:   d.Owner,
		},
	}

	return json.Marshal(spec)
}
