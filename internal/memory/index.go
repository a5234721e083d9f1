package memory

import (
	"strings"

	"github.com/blevesearch/bleve"
)

// userIndex is an in-process full text index over one user's memories.
type userIndex struct {
	idx bleve.Index
}

type indexDoc struct {
	Text string `json:"text"`
}

func newUserIndex() (*userIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &userIndex{idx: idx}, nil
}

func (u *userIndex) add(r Record) error {
	return u.idx.Index(r.ID, indexDoc{Text: r.Text})
}

func (u *userIndex) remove(ids ...string) {
	for _, id := range ids {
		_ = u.idx.Delete(id)
	}
}

func (u *userIndex) size() uint64 {
	n, err := u.idx.DocCount()
	if err != nil {
		return 0
	}
	return n
}

// search returns the ids of the best matching memories, best first.
func (u *userIndex) search(q string, limit int) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" || limit <= 0 {
		return nil, nil
	}
	query := bleve.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	res, err := u.idx.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (u *userIndex) close() {
	if u != nil && u.idx != nil {
		_ = u.idx.Close()
	}
}
