package progressbar

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const barWidth = 64

// Progress renders terminal progress for batch commands. One container can
// hold several bars; rendering stops when Wait returns.
type Progress struct {
	container *mpb.Progress
}

// New creates a progress container writing to stdout. Options are passed
// through, which is how tests redirect the output.
func New(opts ...mpb.ContainerOption) *Progress {
	return &Progress{
		container: mpb.New(append([]mpb.ContainerOption{mpb.WithWidth(barWidth)}, opts...)...),
	}
}

// Bar tracks one task.
type Bar struct {
	bar *mpb.Bar
}

// NewBytesBar adds a bar for a byte stream of the given total size, usually
// a file being read front to back.
func (p *Progress) NewBytesBar(name string, total int64) *Bar {
	bar := p.container.New(total,
		mpb.BarStyle().Lbound("╢").Filler("▌").Tip("▌").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			// display our name with one space on the right
			decor.Name(name, decor.WC{C: decor.DindentRight | decor.DextraSpace}),
			// replace ETA decorator with "done" message, OnComplete event
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO), "done"),
		),
		mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
	)
	return &Bar{bar: bar}
}

// Reader wraps r so that reads advance the bar. The bar completes on its
// own when the reads reach the total.
func (b *Bar) Reader(r io.Reader) io.ReadCloser {
	return b.bar.ProxyReader(r)
}

// Abort terminates a bar that will not reach its total, keeping it on
// screen. Aborting a completed bar is a no-op.
func (b *Bar) Abort() {
	b.bar.Abort(false)
}

// Current returns the number of bytes counted so far.
func (b *Bar) Current() int64 {
	return b.bar.Current()
}

// Wait blocks until every bar has completed or aborted and the final render
// has been flushed.
func (p *Progress) Wait() {
	p.container.Wait()
}
