package cascade

import (
	"context"

	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/platform/provenance"
)

// Leaf serves inbound deletion requests in a service that does not forward
// data further. It deletes local rows and records delete_done with the
// receipt it returns to the caller.
type Leaf struct {
	log   *provenance.Log
	local LocalEraser
}

func NewLeaf(log *provenance.Log, local LocalEraser) *Leaf {
	return &Leaf{log: log, local: local}
}

// Erase deletes userID locally. Deleting a user with no rows succeeds with a
// zero count, so callers can retry safely.
func (l *Leaf) Erase(ctx context.Context, userID id.UserID) (Ack, error) {
	if userID.IsZero() {
		return Ack{}, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	n, err := l.local.DeleteUser(ctx, userID)
	if err != nil {
		return Ack{}, dErrors.Wrap(err, dErrors.CodeInternal, "delete local records")
	}
	ack := Ack{DeletedUserID: userID, DeletedRecords: n}
	if _, err := l.log.Append(ctx, provenance.AppendRequest{
		Operation: provenance.OpDeleteDone,
		UserID:    userID,
		TagID:     id.AllTags,
		Payload:   mustJSON(ack),
		Metadata:  map[string]any{"deleted_records": n},
	}); err != nil {
		return Ack{}, err
	}
	return ack, nil
}
