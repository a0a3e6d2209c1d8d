package main

import (
	"io"
	"math"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/dawg/vusic/analysis"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type (
	input struct {
		Name   string
		Format string
		Frames int
		Levels analysis.Levels
	}

	report struct {
		Inputs    []input
		Error     float64
		Threshold float64
		FFTSize   int
		Hop       int
	}
)

func (r report) Pass() bool { return r.Error <= r.Threshold }

const reportTemplate = `{{- range $i, $in := .Inputs -}}
{{add $i 1}}. {{$in.Name}} ({{title $in.Format}}, {{frames $in.Frames}} frames)
   peak {{db (index $in.Levels.Peak 0)}} / {{db (index $in.Levels.Peak 1)}} dBFS, rms {{db (index $in.Levels.RMS 0)}} / {{db (index $in.Levels.RMS 1)}} dBFS
{{end -}}
{{repeat 60 "-"}}
spectral error {{printf "%.6g" .Error}} over {{.FFTSize}} point windows every {{.Hop}} frames
{{if .Pass}}{{"pass" | upper}}{{else}}{{"fail" | upper}}{{end}} (threshold {{printf "%.6g" .Threshold}})
`

var reportFuncs = func() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	printer := message.NewPrinter(language.English)
	caser := cases.Title(language.English)
	funcs["frames"] = func(n int) string { return printer.Sprintf("%d", n) }
	funcs["title"] = caser.String
	funcs["db"] = func(v float64) string {
		if math.IsInf(v, -1) {
			return "-inf"
		}
		return printer.Sprintf("%.2f", v)
	}
	return funcs
}()

var reportTmpl = template.Must(template.New("report").Funcs(reportFuncs).Parse(reportTemplate))

func (r report) Write(w io.Writer) error {
	return reportTmpl.Execute(w, r)
}
