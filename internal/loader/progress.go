package loader

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/franz/gigbase-loader/internal/util"
)

// progress wraps an optional row progress bar. The zero value is a no-op.
type progress struct {
	bar      *progressbar.ProgressBar
	finished bool
}

// newProgress shows a bar only when enabled, stderr is a terminal and
// logging is not quiet
func newProgress(enabled bool, total int) *progress {
	if !enabled || total == 0 || !util.IsTerminal(os.Stderr.Fd()) || util.IsQuiet() {
		return &progress{}
	}

	return &progress{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Loading"),
		progressbar.OptionSetWidth(util.GetTerminalWidth()/3),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)}
}

func (p *progress) Add(n int) {
	if p.bar != nil {
		p.bar.Add(n)
	}
}

func (p *progress) Finish() {
	if p.bar != nil && !p.finished {
		p.finished = true
		p.bar.Finish()
	}
}
