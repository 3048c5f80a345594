package offline

import (
	"context"
	"fmt"

	"github.com/AvengeMedia/tidysearch/internal/errdefs"
	"github.com/AvengeMedia/tidysearch/internal/indexer"
)

// IndexBackend replays queued operations against the local index. It stands
// in for a remote authority in single-node deployments and in tests.
type IndexBackend struct {
	svc *indexer.Service
}

func NewIndexBackend(svc *indexer.Service) *IndexBackend {
	return &IndexBackend{svc: svc}
}

func (b *IndexBackend) Apply(ctx context.Context, op *Operation) Outcome {
	switch op.Type {
	case OpCreate, OpUpdate:
		res, err := b.svc.IndexFile(ctx, op.FilePath)
		if err != nil {
			return Outcome{Status: "error", Err: err}
		}
		if res.Status == indexer.StatusFailed {
			return Outcome{Status: "error", Err: errdefs.NewCustomError(errdefs.ErrTypeSyncFailed, res.Error, nil)}
		}
		return Outcome{Status: "success"}
	case OpDelete:
		if _, err := b.svc.Remove(op.FilePath); err != nil {
			return Outcome{Status: "error", Err: err}
		}
		return Outcome{Status: "success"}
	case OpRename, OpMove:
		newPath, _ := op.Data["new_path"].(string)
		if newPath == "" {
			return Outcome{Status: "error", Err: errdefs.NewCustomError(errdefs.ErrTypeSyncFailed, "rename without new_path", nil)}
		}
		if _, err := b.svc.Remove(op.FilePath); err != nil {
			return Outcome{Status: "error", Err: err}
		}
		res, err := b.svc.IndexFile(ctx, newPath)
		if err != nil {
			return Outcome{Status: "error", Err: err}
		}
		if res.Status == indexer.StatusFailed {
			return Outcome{Status: "error", Err: errdefs.NewCustomError(errdefs.ErrTypeSyncFailed, res.Error, nil)}
		}
		return Outcome{Status: "success"}
	default:
		return Outcome{Status: "error", Err: fmt.Errorf("unknown operation type %q", op.Type)}
	}
}
