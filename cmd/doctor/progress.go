package main

import (
	"io"

	"github.com/paulyops/sysdoctor/internal/doctor"
	"github.com/schollz/progressbar/v3"
)

// barProgress renders the first pass over the checks as a progress bar.
type barProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newBarProgress(w io.Writer) *barProgress {
	return &barProgress{w: w}
}

func (p *barProgress) Begin(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("checking"),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerPadding: " ",
			BarStart:      "|",
			BarEnd:        "|",
		}),
	)
}

func (p *barProgress) CheckDone(r doctor.CheckResult) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(r.Name)
	_ = p.bar.Add(1)
}

func (p *barProgress) End() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
