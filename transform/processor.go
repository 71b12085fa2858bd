package transform

import (
	"cmp"
	"context"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"

	"github.com/polarsignals/tsflow/series"
)

// GroupOutput holds the output rows of one group. Buffer is nil for the
// rows of a global transform.
type GroupOutput struct {
	Buffer *series.Buffer
	Rows   []Row
}

type Summary struct {
	Groups   int
	Rows     int
	Skipped  int
	Degraded int
	Duration time.Duration
}

// Processor runs a transform over every buffered group. It is not safe for
// concurrent use; a single worker owns it once input is complete.
type Processor struct {
	transform Transform
	mem       memory.Allocator
	logger    log.Logger

	processed bool
	out       [][]GroupOutput
	err       error
	summary   Summary
}

func NewProcessor(t Transform, mem memory.Allocator, logger log.Logger) *Processor {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Processor{
		transform: t,
		mem:       mem,
		logger:    log.With(logger, "transform", t.Kind()),
	}
}

// Process sorts every group, validates that its timestamps are unique and
// computes its rows. The output is indexed by slot and then by group in
// key order, so that it does not depend on the order rows were pushed in.
// Only the first call does any work, later calls return the same result.
func (p *Processor) Process(ctx context.Context, slots []*series.Slot) ([][]GroupOutput, error) {
	if p.processed {
		return p.out, p.err
	}
	p.processed = true

	start := time.Now()
	p.out, p.err = p.process(ctx, slots)
	p.summary.Duration = time.Since(start)
	if p.err != nil {
		p.out = nil
		return nil, p.err
	}

	level.Debug(p.logger).Log(
		"msg", "processed groups",
		"groups", p.summary.Groups,
		"rows", p.summary.Rows,
		"skipped", p.summary.Skipped,
		"degraded", p.summary.Degraded,
		"duration", p.summary.Duration,
	)
	return p.out, nil
}

func (p *Processor) Summary() Summary {
	return p.summary
}

func (p *Processor) process(ctx context.Context, slots []*series.Slot) ([][]GroupOutput, error) {
	global, isGlobal := p.transform.(GlobalTransform)

	var all []*series.Buffer
	out := make([][]GroupOutput, len(slots))
	for s, slot := range slots {
		buffers := slices.Clone(slot.Buffers())
		slices.SortFunc(buffers, func(a, b *series.Buffer) int {
			if c := strings.Compare(string(a.Key), string(b.Key)); c != 0 {
				return c
			}
			return cmp.Compare(boolRank(a.Group.Null), boolRank(b.Group.Null))
		})
		if !isGlobal {
			out[s] = make([]GroupOutput, 0, len(buffers))
		}
		for _, b := range buffers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := b.Sort(); err != nil {
				return nil, err
			}
			p.summary.Groups++
			if isGlobal {
				all = append(all, b)
				continue
			}

			o, err := p.transform.Apply(ctx, p.mem, b)
			if err != nil {
				return nil, err
			}
			if o.Skipped {
				p.summary.Skipped++
				level.Debug(p.logger).Log("msg", "group skipped", "group", string(b.Key), "points", b.Len())
			}
			if o.Degraded != nil {
				p.summary.Degraded++
				level.Warn(p.logger).Log("msg", "group emitted without derived values", "group", string(b.Key), "err", o.Degraded)
			}
			p.summary.Rows += len(o.Rows)
			out[s] = append(out[s], GroupOutput{Buffer: b, Rows: o.Rows})
		}
	}

	if !isGlobal {
		return out, nil
	}
	rows, err := global.ApplyAll(ctx, p.mem, all)
	if err != nil {
		return nil, err
	}
	p.summary.Rows = len(rows)
	return [][]GroupOutput{{{Rows: rows}}}, nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
