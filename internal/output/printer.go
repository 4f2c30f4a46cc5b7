package output

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/tdh8316/handlecheck/internal/probe"
	"github.com/tdh8316/handlecheck/internal/registry"
	"github.com/tdh8316/handlecheck/internal/store"
)

const bannerText = `
 _                     _ _           _               _
| |__   __ _ _ __   __| | | ___  ___| |__   ___  ___| | __
| '_ \ / _' | '_ \ / _' | |/ _ \/ __| '_ \ / _ \/ __| |/ /
| | | | (_| | | | | (_| | |  __/ (__| | | |  __/ (__|   <
|_| |_|\__,_|_| |_|\__,_|_|\___|\___|_| |_|\___|\___|_|\_\
`

// Printer writes user-facing output. Diagnostics go to the logger instead.
type Printer struct {
	noColor bool
	verbose bool

	out    io.Writer
	logger *log.Logger

	green, red, yellow, purple, blue, cyan, bold *color.Color
}

func NewPrinter(stdout io.Writer, noColor, verbose bool) *Printer {
	p := &Printer{
		noColor: noColor,
		verbose: verbose,
		out:     stdout,
		logger:  log.New(stdout, "", 0),
	}
	p.green = p.paint(color.FgHiGreen)
	p.red = p.paint(color.FgHiRed)
	p.yellow = p.paint(color.FgHiYellow)
	p.purple = p.paint(color.FgHiMagenta)
	p.blue = p.paint(color.FgHiBlue)
	p.cyan = p.paint(color.FgHiCyan)
	p.bold = p.paint(color.Bold)
	return p
}

func (p *Printer) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.noColor {
		c.DisableColor()
	}
	return c
}

// Banner prints the tool banner and a preview of the platforms to be scanned.
func (p *Printer) Banner(version string, reg *registry.Registry) {
	p.logger.Print(p.cyan.Sprint(bannerText))
	p.logger.Printf("%s v%s - username availability checker", p.bold.Sprint("handlecheck"), version)

	names := reg.Names()
	preview := strings.Join(names[:min(6, len(names))], ", ")
	if len(names) > 6 {
		preview += ", ..."
	}
	p.logger.Printf("%s %s %s", p.purple.Sprint(">"), p.bold.Sprintf("Scanning %d platforms:", len(names)), preview)
	p.logger.Print(p.cyan.Sprint(strings.Repeat("=", 60)))
}

func (p *Printer) ScanHeader(username string) {
	p.logger.Printf("\n[+] Checking %s on:", p.cyan.Sprint(username))
	p.logger.Print(p.yellow.Sprint(strings.Repeat("=", 50)))
}

func (p *Printer) verdictStyle(v probe.Verdict) (*color.Color, string) {
	switch {
	case v == probe.Available:
		return p.green, "✓"
	case v == probe.Taken:
		return p.red, "✗"
	case v.IsError():
		return p.yellow, "⚠"
	default:
		return p.purple, "?"
	}
}

// Outcome prints one platform line.
func (p *Printer) Outcome(o probe.Outcome) {
	c, symbol := p.verdictStyle(o.Verdict)
	line := fmt.Sprintf("[%s] %-12s : %s", symbol, o.Platform, o.Verdict)
	if p.verbose {
		if o.Detail != "" {
			line += " (" + o.Detail + ")"
		}
		if o.Verdict == probe.Taken {
			line += " " + o.URL
		}
	}
	p.logger.Print(c.Sprint(line))
}

// Result prints every outcome in registry order followed by the summary.
func (p *Printer) Result(res *probe.ScanResult) {
	for _, o := range res.Outcomes {
		p.Outcome(o)
	}
	p.Summary(res.Counts())
}

// Summary tallies available, taken, errors and undefined.
func (p *Printer) Summary(counts map[probe.Verdict]int) {
	errs := 0
	for v, n := range counts {
		if v.IsError() {
			errs += n
		}
	}

	p.logger.Printf("\n%s", p.bold.Sprint("Summary of results:"))
	table := tablewriter.NewTable(p.out,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{Borders: tw.BorderNone})),
	)
	_ = table.Append(p.green.Sprint("available"), strconv.Itoa(counts[probe.Available]))
	_ = table.Append(p.red.Sprint("taken"), strconv.Itoa(counts[probe.Taken]))
	_ = table.Append(p.yellow.Sprint("errors"), strconv.Itoa(errs))
	_ = table.Append(p.purple.Sprint("undefined"), strconv.Itoa(counts[probe.Undefined]))
	if err := table.Render(); err != nil {
		p.Warn("summary table: " + err.Error())
	}
}

// Record renders a saved result file.
func (p *Printer) Record(rec *store.Record) {
	header := rec.Username
	if !rec.Timestamp.IsZero() {
		header += " @ " + rec.Timestamp.Format(store.TimestampLayout)
	}
	p.ScanHeader(header)

	counts := map[probe.Verdict]int{}
	for _, name := range rec.Platforms {
		v := rec.Results[name]
		counts[v]++
		p.Outcome(probe.Outcome{Platform: name, Verdict: v})
	}
	p.Summary(counts)
}

// Platforms lists the registry as a table.
func (p *Printer) Platforms(reg *registry.Registry) {
	table := tablewriter.NewWriter(p.out)
	table.Header("#", "Platform", "URL", "Markers")
	for i, pl := range reg.Platforms() {
		_ = table.Append(strconv.Itoa(i+1), pl.Name, pl.URLTemplate, strconv.Itoa(len(pl.AvailableMarkers)))
	}
	if err := table.Render(); err != nil {
		p.Warn("platform table: " + err.Error())
	}
}

func (p *Printer) ValidationStart(n int) {
	p.Info(fmt.Sprintf("Checking %d platform(s) against known usernames...", n))
}

func (p *Printer) ValidationFailure(f probe.ValidationFailure) {
	if f.Claimed.Platform == "" && f.Unclaimed.Platform == "" {
		p.logger.Printf("[-] %s: %s", f.Platform, p.yellow.Sprint(f.Reason))
		return
	}
	p.logger.Printf("[-] %s: %s (%s: expected taken, got %s | %s: expected available, got %s)",
		f.Platform,
		p.red.Sprint("Not working"),
		f.ClaimedUsername, f.Claimed.Verdict,
		f.UnclaimedUsername, f.Unclaimed.Verdict,
	)
}

func (p *Printer) ValidationDone(failures int) {
	p.logger.Printf("[%s]", p.green.Sprint("Done"))
	p.logger.Printf("\n%d platform(s) did not behave as expected.", failures)
}

func (p *Printer) Saved(path string) {
	p.logger.Print(p.green.Sprintf("\n[+] Results saved to: %s", path))
}

func (p *Printer) Info(msg string) {
	p.logger.Printf("[%s] %s", p.blue.Sprint("i"), msg)
}

func (p *Printer) Warn(msg string) {
	p.logger.Printf("[%s] %s", p.red.Sprint("!"), p.yellow.Sprint(msg))
}

func (p *Printer) Error(msg string) {
	p.logger.Print(p.red.Sprintf("[!] %s", msg))
}

// Prompt writes msg without a trailing newline.
func (p *Printer) Prompt(msg string) {
	_, _ = fmt.Fprint(p.out, p.bold.Sprint(msg))
}
