package main

import (
	"fmt"
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"cssbattle/pkg/artifact"
	"cssbattle/pkg/compare"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/round"
)

var bandColors = map[compare.Band]color.Color{
	compare.BandHigh: color.NRGBA{0x4c, 0xc9, 0x6b, 0xff},
	compare.BandMid:  color.NRGBA{0xf2, 0xbf, 0x33, 0xff},
	compare.BandLow:  color.NRGBA{0xe5, 0x4d, 0x4d, 0xff},
}

// battleView holds the widgets of the window. All methods run on the UI thread.
type battleView struct {
	window    fyne.Window
	artifacts *artifact.Store

	htmlEntry *widget.Entry
	cssEntry  *widget.Entry
	target    *canvas.Image
	preview   *canvas.Image
	diff      *canvas.Image
	clock     *canvas.Text
	current   *canvas.Text
	best      *canvas.Text
	status    *widget.Label
	palette   *widget.Label
	submitBtn *widget.Button
	resetBtn  *widget.Button

	onEdit   func(markup.Document)
	onReset  func()
	onSubmit func()

	// settingSource suppresses onEdit while the entries are filled programmatically.
	settingSource bool
}

func newBattleView(w fyne.Window, artifacts *artifact.Store) *battleView {
	v := &battleView{window: w, artifacts: artifacts}

	v.htmlEntry = widget.NewMultiLineEntry()
	v.htmlEntry.SetPlaceHolder("<div></div>")
	v.cssEntry = widget.NewMultiLineEntry()
	v.cssEntry.SetPlaceHolder("div { width: 100px; height: 100px; background: #dd6b4d }")
	edited := func(string) {
		if v.settingSource || v.onEdit == nil {
			return
		}
		v.onEdit(markup.Document{Markup: v.htmlEntry.Text, Style: v.cssEntry.Text})
	}
	v.htmlEntry.OnChanged = edited
	v.cssEntry.OnChanged = edited

	v.target = newPanel(nil)
	v.preview = newPanel(nil)
	v.diff = newPanel(nil)

	v.clock = canvas.NewText("5:00", color.White)
	v.clock.TextSize = 28
	v.clock.TextStyle = fyne.TextStyle{Monospace: true, Bold: true}
	v.current = canvas.NewText("0.00%", bandColors[compare.BandLow])
	v.current.TextSize = 22
	v.best = canvas.NewText("best 0.00%", bandColors[compare.BandLow])
	v.best.TextSize = 16
	v.status = widget.NewLabel("")
	v.palette = widget.NewLabel("")

	v.submitBtn = widget.NewButton("Submit", func() {
		if v.onSubmit != nil {
			v.onSubmit()
		}
	})
	v.submitBtn.Importance = widget.HighImportance
	v.resetBtn = widget.NewButton("Reset", func() {
		if v.onReset != nil {
			v.onReset()
		}
	})
	return v
}

func newPanel(img image.Image) *canvas.Image {
	c := canvas.NewImageFromImage(img)
	c.FillMode = canvas.ImageFillContain
	c.SetMinSize(fyne.NewSize(markup.Width, markup.Height))
	return c
}

func (v *battleView) layout() fyne.CanvasObject {
	editors := container.NewVSplit(
		container.NewBorder(widget.NewLabel("HTML"), nil, nil, nil, v.htmlEntry),
		container.NewBorder(widget.NewLabel("CSS"), nil, nil, nil, v.cssEntry),
	)
	images := container.NewGridWithRows(3,
		container.NewBorder(widget.NewLabel("Your output"), nil, nil, nil, v.preview),
		container.NewBorder(widget.NewLabel("Target"), nil, nil, nil, v.target),
		container.NewBorder(widget.NewLabel("Diff"), nil, nil, nil, v.diff),
	)
	header := container.NewHBox(v.clock, widget.NewSeparator(), v.current, v.best, layout.NewSpacer(), v.resetBtn, v.submitBtn)
	footer := container.NewVBox(v.palette, v.status)
	split := container.NewHSplit(editors, images)
	split.Offset = 0.55
	return container.NewBorder(header, footer, nil, nil, split)
}

func (v *battleView) setSource(doc markup.Document) {
	v.settingSource = true
	v.htmlEntry.SetText(doc.Markup)
	v.cssEntry.SetText(doc.Style)
	v.settingSource = false
}

func (v *battleView) showClock(u round.Update) {
	v.clock.Text = round.FormatClock(u.Remaining)
	if round.Critical(u.Remaining) && u.State != round.StateSubmitted {
		v.clock.Color = bandColors[compare.BandLow]
	} else {
		v.clock.Color = color.White
	}
	v.clock.Refresh()
}

func (v *battleView) show(u round.Update) {
	v.showClock(u)

	v.current.Text = fmt.Sprintf("%.2f%%", u.Current)
	v.current.Color = bandColors[compare.BandOf(u.Current)]
	v.current.Refresh()
	v.best.Text = fmt.Sprintf("best %.2f%%", u.Best)
	v.best.Color = bandColors[compare.BandOf(u.Best)]
	v.best.Refresh()

	if u.Preview != nil && v.preview.Image != u.Preview {
		v.preview.Image = u.Preview
		v.preview.Refresh()
	}
	if u.Diff != "" {
		if data, ok := v.artifacts.Get(u.Diff); ok {
			v.diff.Image = decodeDiff(data)
			v.diff.Refresh()
		}
	}
	v.target.Refresh()

	switch {
	case u.State == round.StateSubmitted:
		v.status.SetText(fmt.Sprintf("Submitted %.2f%%", u.Best))
		v.htmlEntry.Disable()
		v.cssEntry.Disable()
		v.submitBtn.Disable()
		v.resetBtn.Disable()
	case u.Err != nil:
		v.status.SetText("Last edit not scored: " + u.Err.Error())
	default:
		v.status.SetText("")
	}
}
