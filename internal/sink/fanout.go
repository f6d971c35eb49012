package sink

import (
	"context"
	"errors"

	"dotmap/internal/alloc"
)

// Fanout：按顺序把同一批记录写入多个目标
// 约束：任一目标失败即返回，不回滚已写入的其他目标
type Fanout []alloc.Sink

func (f Fanout) Append(ctx context.Context, recs []alloc.Record) error {
	for _, s := range f {
		if err := s.Append(ctx, recs); err != nil {
			return err
		}
	}
	return nil
}

func (f Fanout) Commit(ctx context.Context) error {
	for _, s := range f {
		if err := s.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
