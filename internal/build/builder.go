package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caetera/spectronaut-webui/internal/metadata"
	"github.com/caetera/spectronaut-webui/internal/registry"
)

// Builder converts a batch with fully-assigned metadata into a Plan. The
// only side effects are filesystem writes under the batch's output
// directory.
type Builder struct {
	logger *slog.Logger
}

func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build validates the batch, stages its input files, copies parameter files
// into params/, writes the condition table, and assembles the invocations.
// Identical inputs always produce identical argv.
func (b *Builder) Build(ctx context.Context, batch *Batch) (*Plan, error) {
	if err := validate(batch); err != nil {
		return nil, err
	}

	// The batch itself stays immutable; staged paths and copied parameter
	// files are tracked on local copies.
	params := batch.Params

	if params.ExperimentName == "" {
		params.ExperimentName = batch.Entries[0].Stem()
	}

	plan := &Plan{
		WorkingDir: params.OutputDir,
		DataDir:    filepath.Join(params.OutputDir, "data"),
		ParamsDir:  filepath.Join(params.OutputDir, "params"),
	}

	for _, dir := range []string{plan.DataDir, plan.ParamsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output tree %s: %w", dir, err)
		}
	}

	entries, err := stageEntries(ctx, batch.Entries, plan.DataDir, b.logger)
	if err != nil {
		return nil, err
	}

	for _, field := range []*string{
		&params.PropertiesFile,
		&params.FastaFile,
		&params.GoFile,
		&params.ReportFile,
		&params.ModRepository,
		&params.EnzymeDB,
	} {
		copied, err := copyIntoParams(*field, plan.ParamsDir)
		if err != nil {
			return nil, err
		}
		if copied != "" {
			*field = copied
			plan.Artifacts = append(plan.Artifacts, copied)
		}
	}

	plan.ConditionFile = filepath.Join(
		plan.ParamsDir,
		params.ExperimentName+"_condition.tsv",
	)

	if err := writeConditionFile(plan.ConditionFile, entries); err != nil {
		return nil, err
	}
	plan.Artifacts = append(plan.Artifacts, plan.ConditionFile)

	switch batch.Workflow {
	case WorkflowDirectDIA:
		plan.Runs = []Invocation{directArgs(params, plan.ConditionFile, entries)}
	case WorkflowConvert:
		plan.Runs = convertArgs(params, entries)
	}

	b.logger.Debug("built invocation plan",
		"workflow", batch.Workflow,
		"runs", len(plan.Runs),
		"artifacts", len(plan.Artifacts),
	)

	return plan, nil
}

func validate(batch *Batch) error {
	switch batch.Workflow {
	case WorkflowDirectDIA, WorkflowConvert:
	default:
		return UnsupportedWorkflowError{Workflow: batch.Workflow}
	}

	if len(batch.Entries) == 0 {
		return ErrNoInputFiles
	}

	if err := registry.ValidateKinds(batch.Entries); err != nil {
		return err
	}

	if batch.Params.OutputDir == "" {
		return MissingParameterError{Field: "output_directory"}
	}

	if batch.Workflow == WorkflowDirectDIA {
		if batch.Params.PropertiesFile == "" {
			return MissingParameterError{Field: "properties_file"}
		}
		if batch.Params.FastaFile == "" {
			return MissingParameterError{Field: "fasta"}
		}
	}

	return nil
}

// copyIntoParams copies a parameter file into paramsDir and returns the new
// path. An empty path or a path that does not exist is skipped; the tool
// will report a missing file itself.
func copyIntoParams(path, paramsDir string) (string, error) {
	if path == "" {
		return "", nil
	}

	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open parameter file %s: %w", path, err)
	}
	defer src.Close()

	target := filepath.Join(paramsDir, filepath.Base(path))

	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("copy parameter file to %s: %w", target, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("copy parameter file to %s: %w", target, err)
	}

	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("copy parameter file to %s: %w", target, err)
	}

	return target, nil
}

func writeConditionFile(path string, entries []registry.FileEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create condition file %s: %w", path, err)
	}

	if err := metadata.WriteConditionTable(f, entries); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close condition file %s: %w", path, err)
	}

	return nil
}

// directArgs assembles the single DirectDIA invocation. Argument order
// matches the Spectronaut CLI conventions and is fixed so that identical
// inputs produce identical argv.
func directArgs(p Params, conditionFile string, entries []registry.FileEntry) Invocation {
	var argv []string

	if p.TempDir != "" {
		argv = append(argv, "-setTemp", p.TempDir)
	}
	if p.ModRepository != "" {
		argv = append(argv, "--importModRepository", p.ModRepository)
	}
	if p.EnzymeDB != "" {
		argv = append(argv, "--importEnzymeDB", p.EnzymeDB)
	}

	argv = append(argv, string(WorkflowDirectDIA))
	argv = append(argv, "-n", p.ExperimentName)
	argv = append(argv, "-con", conditionFile)
	argv = append(argv, "-s", p.PropertiesFile)

	if p.ReportFile != "" {
		argv = append(argv, "-rs", p.ReportFile)
	}

	argv = append(argv, "-fasta", p.FastaFile)

	if p.GoFile != "" {
		argv = append(argv, "-go", p.GoFile)
	}

	argv = append(argv, "-o", p.OutputDir)

	if p.Verbose {
		argv = append(argv, "--verbose")
	}
	if p.Parquet {
		argv = append(argv, "--writeParquet")
	}
	if p.TerminateOnError {
		argv = append(argv, "--terminateAfterError")
	}
	if p.Segmented {
		argv = append(argv, "-segmented")
	}

	for _, e := range entries {
		argv = append(argv, "-r", e.Path)
	}

	return Invocation{Argv: argv}
}

// convertArgs assembles one Convert invocation per input file.
func convertArgs(p Params, entries []registry.FileEntry) []Invocation {
	var common []string

	if p.TempDir != "" {
		common = append(common, "-setTemp", p.TempDir)
	}
	if p.PropertiesFile != "" {
		common = append(common, "-s", p.PropertiesFile)
	}

	common = append(common, "-o", p.OutputDir)

	if p.Verbose {
		common = append(common, "--verbose")
	}
	if p.TerminateOnError {
		common = append(common, "--terminateAfterError")
	}
	if p.Segmented {
		common = append(common, "-segmented")
	}

	runs := make([]Invocation, 0, len(entries))

	for _, e := range entries {
		argv := append([]string{string(WorkflowConvert), "-i", e.Path}, common...)
		runs = append(runs, Invocation{Argv: argv})
	}

	return runs
}
