// Package planner implements the Operation Planner: it turns an HTTP
// request (a single operation, a chain, or a bulk fan-out) into one or
// more queued Task rows with correctly linked `parent`/`mode` fields.
package planner

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/store"
)

// OperationRequest is one operation step as supplied by the HTTP adapter,
// already validated against its schema.
type OperationRequest struct {
	Operation store.Operation
	Mode      store.Mode
	Fields    map[string]any
}

type Planner struct {
	store *store.Store
}

func New(st *store.Store) *Planner {
	return &Planner{store: st}
}

// PlanChain persists one task per operation in ops, threading each step's
// output into the next step's input via `parent`. Per §4.6: every task
// keeps rootFileID as its file_id, so the scheduler runs the chain's steps
// one at a time in order and a failure cascades to the remaining steps. A
// `replace` step rewrites its input File in place, so the following step
// keeps the same input, while an
// `append` step produces a new File whose id isn't known until the
// Executor runs it - the Planner reserves that id up front (a random
//8-hex-char basename, matching the Executor's own append-mode naming) and
// wires it in as the next task's `parent`.
func (p *Planner) PlanChain(db database.Queryable, rootFileID string, ops []OperationRequest) ([]*store.Task, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("planner: chain requires at least one operation")
	}

	tasks := make([]*store.Task, 0, len(ops))
	var parent string

	for i, op := range ops {
		mode := op.Mode
		if mode == "" {
			mode = store.ModeReplace
		}

		fields := cloneFields(op.Fields)

		t := &store.Task{
			Code:      randomCode(),
			FileID:    rootFileID,
			Operation: op.Operation,
			Args: database.NewJSONColumn(store.TaskArgs{
				Mode:   mode,
				Parent: parent,
				Fields: fields,
			}),
		}

		id, err := p.store.CreateTask(db, t)
		if err != nil {
			return nil, fmt.Errorf("planner: failed to create chain task %d (%s): %w", i, op.Operation, err)
		}
		t.ID = id
		tasks = append(tasks, t)

		if mode == store.ModeAppend {
			parent = randomBasename()
		}
	}

	return tasks, nil
}

// PlanBulk replicates a single operation across many files, one task per
// file, each independent (no chaining, no parent linkage).
func (p *Planner) PlanBulk(db database.Queryable, fileIDs []string, op OperationRequest) ([]*store.Task, error) {
	if len(fileIDs) == 0 {
		return nil, fmt.Errorf("planner: bulk requires at least one file id")
	}

	mode := op.Mode
	if mode == "" {
		mode = store.ModeReplace
	}

	tasks := make([]*store.Task, 0, len(fileIDs))
	for _, fid := range fileIDs {
		t := &store.Task{
			Code:      randomCode(),
			FileID:    fid,
			Operation: op.Operation,
			Args: database.NewJSONColumn(store.TaskArgs{
				Mode:   mode,
				Fields: cloneFields(op.Fields),
			}),
		}

		id, err := p.store.CreateTask(db, t)
		if err != nil {
			return nil, fmt.Errorf("planner: failed to create bulk task for file %s: %w", fid, err)
		}
		t.ID = id
		tasks = append(tasks, t)
	}

	return tasks, nil
}

// PlanSingle persists one task for one operation against one file - the
// common case behind the single-operation HTTP routes.
func (p *Planner) PlanSingle(db database.Queryable, fileID string, op OperationRequest) (*store.Task, error) {
	tasks, err := p.PlanBulk(db, []string{fileID}, op)
	if err != nil {
		return nil, err
	}
	return tasks[0], nil
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func randomCode() string {
	return randomHex(4)
}

func randomBasename() string {
	return randomHex(4)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("planner: failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
