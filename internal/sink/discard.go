package sink

import (
	"context"

	"dotmap/internal/alloc"
)

// Discard：只计数不落盘，用于试运行估算数据规模
type Discard struct {
	Records int64
	Commits int
	ByCode  map[byte]int64
}

func NewDiscard() *Discard { return &Discard{ByCode: map[byte]int64{}} }

func (d *Discard) Append(_ context.Context, recs []alloc.Record) error {
	d.Records += int64(len(recs))
	for _, r := range recs {
		d.ByCode[r.Code]++
	}
	return nil
}

func (d *Discard) Commit(context.Context) error { d.Commits++; return nil }
func (d *Discard) Close() error                 { return nil }
