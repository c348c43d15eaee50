// Package httppeer implements replication.Peer over the replication HTTP endpoints.
package httppeer

import (
	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
)

// Route paths relative to the replication base URL.
const (
	PathPing      = "/ping"
	PathChanges   = "/%s/changes"
	PathRevsDiff  = "/%s/revs-diff"
	PathRevisions = "/%s/revisions"
	PathBulk      = "/%s/bulk"
)

// ChangesResponse is the body of a changes feed page.
type ChangesResponse struct {
	Changes []docstore.Change `json:"changes"`
	Last    int64             `json:"last"`
}

// RevsRequest names revisions per document id.
type RevsRequest struct {
	Revs map[string][]revision.Revision `json:"revs"`
}

// RevsDiffResponse lists the revisions the receiver does not know.
type RevsDiffResponse struct {
	Missing map[string][]revision.Revision `json:"missing"`
}

// ReplicasBody carries leaf revisions in both directions.
type ReplicasBody struct {
	Replicas []docstore.Replica `json:"replicas"`
}

// BulkResponse reports how many replicas changed the receiver.
type BulkResponse struct {
	Written int `json:"written"`
}
