package executor

import (
	"github.com/hbomb79/theapipe/internal/catalog"
	"github.com/hbomb79/theapipe/internal/store"
)

// Test-only aliases exposing unexported helpers to executor_test, following
// the standard Go export_test.go seam rather than widening the package's
// real API surface.

var (
	Diagnostic         = diagnostic
	BasenameWithoutExt = basenameWithoutExt
	ExtOf              = extOf
	ReadJSONPlan       = readJSONPlan
	BundlePrefix       = bundlePrefix
	IsPublicOperation  = isPublicOperation
)

func (e *Executor) TestOutputExtension(task store.Task, primary *store.File) string {
	return e.outputExtension(task, primary)
}

func (e *Executor) TestOutputBasename(task store.Task, primary *store.File, mode store.Mode) string {
	return e.outputBasename(task, primary, mode)
}

func (e *Executor) TestUploadKey(task store.Task, primary *store.File, outputFile string, mode store.Mode) string {
	return e.uploadKey(task, primary, outputFile, mode)
}

func (e *Executor) TestCheckPreconditions(task store.Task, primary *store.File) error {
	return e.checkPreconditions(task, primary)
}

func (e *Executor) TestBuildOperationArgs(task store.Task, inputs []string) (catalog.OperationArgs, error) {
	return e.buildOperationArgs(task, inputs)
}
