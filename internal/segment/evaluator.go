package segment

import (
	"context"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// RecipientSource is the store capability the evaluator needs: a keyset page
// of recipients matching a WHERE fragment, ordered by phone ascending.
type RecipientSource interface {
	ListMatching(ctx context.Context, whereSQL string, args []interface{}, cursor string, limit int) ([]domain.Recipient, error)
}

// Evaluator resolves rule trees into recipient pages. The predicate is
// pushed down to the store; ordering by E.164 ascending plus the opaque
// cursor makes consumption resumable after a crash.
type Evaluator struct {
	src      RecipientSource
	pageSize int
}

// NewEvaluator creates an evaluator over the given source.
func NewEvaluator(src RecipientSource, pageSize int) *Evaluator {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Evaluator{src: src, pageSize: pageSize}
}

// Page returns the next page of matching recipients after cursor. The
// returned cursor resumes after the last row; an empty next cursor means the
// stream is drained. An empty input cursor starts from the beginning. The
// consent gate OPT_IN is always applied on top of the tree.
func (e *Evaluator) Page(ctx context.Context, tree *Node, cursor string) ([]domain.Recipient, string, error) {
	where, args, err := BuildWhere(tree)
	if err != nil {
		return nil, "", err
	}
	recipients, err := e.src.ListMatching(ctx, where, args, cursor, e.pageSize)
	if err != nil {
		return nil, "", err
	}
	if len(recipients) == 0 {
		return nil, "", nil
	}
	next := recipients[len(recipients)-1].PhoneE164
	if len(recipients) < e.pageSize {
		// Short page: the stream is drained, no further page needed.
		return recipients, "", nil
	}
	return recipients, next, nil
}
