// Package build turns a validated batch of staged files and parameters into
// an executable Spectronaut invocation plan, writing the supporting artifact
// tree (staged data, copied parameter files, condition table) along the way.
package build

import (
	"github.com/caetera/spectronaut-webui/internal/registry"
)

// Workflow selects the Spectronaut protocol to run.
type Workflow string

const (
	// WorkflowConvert converts raw inputs to HTRMS, one invocation per file.
	WorkflowConvert Workflow = "convert"

	// WorkflowDirectDIA is the library-free DIA search.
	WorkflowDirectDIA Workflow = "direct"

	// WorkflowDIA is the library-based DIA search. Not implemented yet.
	WorkflowDIA Workflow = "dia"

	// WorkflowCombine combines existing searches. Not implemented yet.
	WorkflowCombine Workflow = "combine"
)

// Params are the user-supplied parameters of a batch. File-path fields are
// rewritten to their copies under params/ during the build.
type Params struct {
	ExperimentName string `json:"experiment_name"`
	PropertiesFile string `json:"properties_file"`
	FastaFile      string `json:"fasta_file"`
	GoFile         string `json:"go_file"`
	ReportFile     string `json:"report_file"`
	ModRepository  string `json:"mod_repository"`
	EnzymeDB       string `json:"enzyme_database"`
	OutputDir      string `json:"output_directory"`
	TempDir        string `json:"temp_directory"`

	Verbose          bool `json:"verbose"`
	Parquet          bool `json:"parquet"`
	Segmented        bool `json:"segmented"`
	TerminateOnError bool `json:"terminate_on_error"`

	// ShutdownWhenDone asks the serving layer to terminate once the job
	// reaches Completed or Failed.
	ShutdownWhenDone bool `json:"shutdown_when_done"`
}

// Batch is an immutable snapshot of the staged entries and parameters, taken
// at submission time so concurrent table edits cannot affect a running job.
type Batch struct {
	Entries  []registry.FileEntry `json:"entries"`
	Workflow Workflow             `json:"workflow"`
	Params   Params               `json:"params"`
}

// Invocation is one argv to append to the configured command template.
type Invocation struct {
	Argv []string
}

// Plan is the buildable output of a batch: the invocations to run in order
// and the artifacts written under the output directory.
type Plan struct {
	Runs          []Invocation
	WorkingDir    string
	DataDir       string
	ParamsDir     string
	ConditionFile string
	Artifacts     []string
}
