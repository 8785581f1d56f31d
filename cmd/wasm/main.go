//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"strings"
	"syscall/js"

	"tirsharpen/pkg/quicklook"
	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sensor"
	"tirsharpen/pkg/sharpen"
)

var last *sharpen.Result

func main() {
	js.Global().Set("sharpenFITS", js.FuncOf(sharpenFITS))
	js.Global().Set("renderQuicklook", js.FuncOf(renderQuicklook))
	select {} // block forever
}

// sharpenFITS(fileBytes, options) sharpens a FITS scene cube. options may set
// satellite, radius, cvThreshold, sampleRate, seed, energyConservation,
// diagnostics, encoding ("float32" or "int16") and sensors (a JSON table).
func sharpenFITS(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("usage: sharpenFITS(fileBytes, options)")
	}

	jsBytes := args[0]
	fileBytes := make([]byte, jsBytes.Get("length").Int())
	js.CopyBytesToGo(fileBytes, jsBytes)

	img, err := raster.ReadFitsFromBytes(fileBytes)
	if err != nil {
		return errorResult("FITS parse error: " + err.Error())
	}

	params := sharpen.NewParams()
	params.Workers = 1
	sensors := sensor.DefaultTable()
	encoding := raster.EncodingFloat32
	if len(args) >= 2 && args[1].Type() == js.TypeObject {
		opts := args[1]
		if v := opts.Get("satellite"); v.Type() == js.TypeString {
			img.Metadata.Satellite = v.String()
		}
		if v := opts.Get("radius"); v.Type() == js.TypeNumber {
			params.KernelRadius = v.Int()
		}
		if v := opts.Get("cvThreshold"); v.Type() == js.TypeNumber {
			params.CVThreshold = v.Float()
		}
		if v := opts.Get("sampleRate"); v.Type() == js.TypeNumber {
			params.SampleRate = v.Float()
		}
		if v := opts.Get("seed"); v.Type() == js.TypeNumber {
			params.Seed = int64(v.Int())
		}
		if v := opts.Get("energyConservation"); v.Type() == js.TypeBoolean {
			params.EnergyConservation = v.Bool()
		}
		if v := opts.Get("diagnostics"); v.Type() == js.TypeBoolean {
			params.Diagnostics = v.Bool()
		}
		if v := opts.Get("encoding"); v.Type() == js.TypeString {
			if encoding, err = raster.ParseEncoding(v.String()); err != nil {
				return errorResult(err.Error())
			}
		}
		if v := opts.Get("sensors"); v.Type() == js.TypeString {
			if sensors, err = sensor.LoadTable(strings.NewReader(v.String())); err != nil {
				return errorResult("sensor table error: " + err.Error())
			}
		}
	}

	s, err := sharpen.New(params, sensors)
	if err != nil {
		return errorResult(err.Error())
	}
	res, err := s.Sharpen(context.Background(), img)
	if err != nil {
		return errorResult("Sharpening error: " + err.Error())
	}
	last = res

	var buf bytes.Buffer
	if err := raster.WriteFits(&buf, res.Image, encoding); err != nil {
		return errorResult("FITS write error: " + err.Error())
	}
	fits := js.Global().Get("Uint8Array").New(buf.Len())
	js.CopyBytesToJS(fits, buf.Bytes())

	summary := raster.CalculateStatistics(res.Sharpened())
	st := res.Stats
	stages := map[string]interface{}{}
	for name, d := range st.StageDurations {
		stages[name] = d.Seconds()
	}
	bands := make([]interface{}, 0, len(res.Image.Bands))
	for _, name := range res.Image.BandNames() {
		bands = append(bands, name)
	}

	return js.ValueOf(map[string]interface{}{
		"width":            res.Image.Grid.Width,
		"height":           res.Image.Grid.Height,
		"sceneId":          res.Image.Metadata.SceneID,
		"satellite":        res.Image.Metadata.Satellite,
		"bands":            bands,
		"coarseCells":      st.CoarseCells,
		"homogeneousCells": st.HomogeneousCells,
		"trainingSamples":  st.TrainingSamples,
		"localValidCells":  st.LocalValidCells,
		"ecCells":          st.ECCells,
		"maskedFraction":   st.MaskedFraction,
		"minTemperature":   summary.Min,
		"maxTemperature":   summary.Max,
		"meanTemperature":  summary.Mean,
		"stageSeconds":     stages,
		"fits":             fits,
	})
}

// renderQuicklook() returns the last sharpened band as PNG bytes.
func renderQuicklook(this js.Value, args []js.Value) interface{} {
	if last == nil {
		return js.Null()
	}

	opts := quicklook.DefaultOptions()
	opts.Title = last.Image.Metadata.SceneID
	pngBytes, err := quicklook.RenderBytes(last.Sharpened(), last.Image.Grid, opts, "png")
	if err != nil {
		return js.Null()
	}

	uint8Array := js.Global().Get("Uint8Array").New(len(pngBytes))
	js.CopyBytesToJS(uint8Array, pngBytes)
	return uint8Array
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}
