package job

import (
	"encoding/json"
	"fmt"

	"flux-gateway/internal/flux"
)

// Command accepts either a shell-style string or an argument list in JSON.
// A string is tokenized later by the descriptor builder; a list is used
// verbatim.
type Command struct {
	raw  string
	list []string
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.raw = s
		c.list = nil
		return nil
	}
	var l []string
	if err := json.Unmarshal(data, &l); err == nil {
		c.raw = ""
		c.list = l
		return nil
	}
	return fmt.Errorf("command must be a string or a list of strings")
}

func (c Command) MarshalJSON() ([]byte, error) {
	if c.list != nil {
		return json.Marshal(c.list)
	}
	return json.Marshal(c.raw)
}

// StringCommand builds a Command from a shell-style string.
func StringCommand(s string) Command { return Command{raw: s} }

// ListCommand builds a Command from an argument vector.
func ListCommand(argv ...string) Command { return Command{list: argv} }

func (c Command) IsEmpty() bool {
	return c.raw == "" && len(c.list) == 0
}

// SubmitRequest is the caller-supplied job submission payload. Unknown keys
// are rejected at the decoding boundary. The canonical minimum-1 key is
// cores_per_task.
type SubmitRequest struct {
	Command      Command           `json:"command"`
	Workdir      string            `json:"workdir"`
	NumTasks     int               `json:"num_tasks"`
	NumNodes     int               `json:"num_nodes"`
	CoresPerTask int               `json:"cores_per_task"`
	GPUsPerTask  int               `json:"gpus_per_task"`
	Exclusive    bool              `json:"exclusive"`
	OptionFlags  map[string]string `json:"option_flags"`
	Envars       map[string]string `json:"envars"`
	Runtime      int               `json:"runtime"`
	IsLauncher   bool              `json:"is_launcher"`
}

// Limits is the server-declared capacity submissions are validated against.
type Limits struct {
	Nodes   int
	HasGPUs bool
}

// Info is the read-only projected view of one job, recomputed per query.
// Ranks, expiration and duration are backfilled with an empty string when
// the scheduler has not populated them, keeping the shape stable for
// tabular consumers.
type Info struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Username   string         `json:"username"`
	NNodes     int            `json:"nnodes"`
	Result     string         `json:"result"`
	ReturnCode int            `json:"returncode"`
	Runtime    float64        `json:"runtime"`
	Priority   int            `json:"priority"`
	WaitStatus int            `json:"waitstatus"`
	Nodelist   string         `json:"nodelist"`
	Exception  flux.Exception `json:"exception"`
	TSubmit    float64        `json:"t_submit"`
	Ranks      string         `json:"ranks"`
	Expiration string         `json:"expiration"`
	Duration   string         `json:"duration"`
}

// searchBlob is the concatenated string form of every field, used by the
// best-effort free-text query.
func (i Info) searchBlob() string {
	return fmt.Sprintf("%s%s%s%s%d%s%d%g%d%d%s%v%g%s%s%s",
		i.ID, i.Name, i.State, i.Username, i.NNodes, i.Result, i.ReturnCode,
		i.Runtime, i.Priority, i.WaitStatus, i.Nodelist, i.Exception,
		i.TSubmit, i.Ranks, i.Expiration, i.Duration)
}

// SearchResult is the pagination envelope consumed by grid/table UIs.
// RecordsTotal is the unfiltered count; RecordsFiltered counts what survived
// the query and the offset/limit slice.
type SearchResult struct {
	Data            []Info `json:"data"`
	Draw            int    `json:"draw"`
	RecordsTotal    int    `json:"recordsTotal"`
	RecordsFiltered int    `json:"recordsFiltered"`
}
