package esindex

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
)

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

// Reindex writes docs as whole documents, replacing any indexed version.
// Each document must carry a string _id, which is not stored in the source.
// It returns the number of documents indexed.
func (ix *Index) Reindex(ctx context.Context, docs []document.Object) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var buf bytes.Buffer
	for i, doc := range docs {
		id, ok := doc[dsl.IDField].(document.String)
		if !ok || id == "" {
			return 0, dberr.InvalidQuery(dsl.IDField, "document %d has no string id", i)
		}
		source := doc.Clone()
		delete(source, dsl.IDField)
		if err := writeAction(&buf, "index", string(id)); err != nil {
			return 0, err
		}
		data, err := document.MarshalCanonical(source)
		if err != nil {
			return 0, dberr.Protocol(err, "encode document %s", id)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	n, err := ix.bulk(ctx, &buf, len(docs))
	if err == nil {
		ix.logger.Debug("reindexed", "index", ix.name, "documents", n)
	}
	return n, err
}

// Delete removes ids from the index and returns how many were present.
func (ix *Index) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var buf bytes.Buffer
	for _, id := range ids {
		if err := writeAction(&buf, "delete", id); err != nil {
			return 0, err
		}
	}
	return ix.bulk(ctx, &buf, len(ids))
}

func writeAction(buf *bytes.Buffer, action, id string) error {
	line, err := json.Marshal(map[string]map[string]string{action: {"_id": id}})
	if err != nil {
		return dberr.Protocol(err, "encode bulk action")
	}
	buf.Write(line)
	buf.WriteByte('\n')
	return nil
}

func (ix *Index) bulk(ctx context.Context, body *bytes.Buffer, expected int) (int, error) {
	res, err := ix.client.Bulk(body,
		ix.client.Bulk.WithContext(ctx),
		ix.client.Bulk.WithIndex(ix.name),
	)
	if err != nil {
		return 0, transportError(err, "bulk")
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError(res, "bulk")
	}
	var resp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, dberr.Protocol(err, "decode bulk response")
	}
	if len(resp.Items) != expected {
		return 0, dberr.Protocol(nil, "bulk answered %d items for %d actions", len(resp.Items), expected)
	}

	n := 0
	for _, entry := range resp.Items {
		for action, item := range entry {
			switch {
			case item.Status < 300:
				n++
			case action == "delete" && item.Status == http.StatusNotFound:
			default:
				re := &ResponseError{Status: item.Status}
				if item.Error != nil {
					re.Type, re.Reason = item.Error.Type, item.Error.Reason
				}
				return n, dberr.Protocol(re, "bulk %s %s", action, item.ID)
			}
		}
	}
	return n, nil
}
