package sdfile

import (
	"os"

	"github.com/cheggaaa/pb/v3"
)

// runProgress shows how many candidates have been treated. A disabled
// progress does nothing.
type runProgress struct {
	bar *pb.ProgressBar
}

func newRunProgress(total int, enabled bool) *runProgress {
	if !enabled || total == 0 {
		return &runProgress{}
	}
	bar := pb.New(total)
	bar.SetWriter(os.Stderr)
	bar.SetTemplate(`{{counters . }} {{bar . }} {{percent . }} {{etime . }} {{string . "file"}}`)
	return &runProgress{bar: bar}
}

func (p *runProgress) start() {
	if p.bar != nil {
		p.bar.Start()
	}
}

func (p *runProgress) step(title string) {
	if p.bar != nil {
		p.bar.Set("file", title)
		p.bar.Increment()
	}
}

func (p *runProgress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
