package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rankfuse/rankfuse/internal/index"
	"github.com/rankfuse/rankfuse/internal/search"
	"github.com/rankfuse/rankfuse/internal/vector"
)

// CheckSnapshots verifies that any index snapshots on disk decode
// cleanly. Missing snapshots pass: they are rebuilt from the document
// store on demand. Corrupt ones fail, since startup refuses to serve
// over a damaged snapshot; the operator must remove it first.
func (c *Checker) CheckSnapshots() Result {
	result := Result{Name: "snapshots", Required: true}

	var problems []string
	lexPath := filepath.Join(c.dataDir, search.LexicalSnapshotFile)
	if _, err := os.Stat(lexPath); err == nil {
		if _, err := index.Load(lexPath); err != nil {
			problems = append(problems, fmt.Sprintf("lexical: %v", err))
		}
	}
	vecPath := filepath.Join(c.dataDir, search.VectorSnapshotFile)
	if _, err := os.Stat(vecPath + ".meta"); err == nil {
		if _, err := vector.Load(vecPath); err != nil {
			problems = append(problems, fmt.Sprintf("vector: %v", err))
		}
	}

	if len(problems) > 0 {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("corrupt snapshots block startup, remove them to rebuild: %v", problems)
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
