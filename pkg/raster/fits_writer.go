package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Encoding describes how physical values are stored in a FITS data unit.
type Encoding struct {
	BitPix int
	Scale  float64
	Zero   float64
	Blank  int64
}

var (
	// EncodingFloat32 stores values as IEEE float32 with NaN as nodata.
	EncodingFloat32 = Encoding{BitPix: -32, Scale: 1}
	// EncodingFixedPoint stores value*10 as int16 with -32768 as nodata.
	EncodingFixedPoint = Encoding{BitPix: 16, Scale: 0.1, Blank: math.MinInt16}
)

// ParseEncoding maps a CLI name to an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(name) {
	case "", "float32", "float":
		return EncodingFloat32, nil
	case "int16", "fixed":
		return EncodingFixedPoint, nil
	}
	return Encoding{}, errors.Errorf("unknown encoding %q", name)
}

func (e Encoding) integer() bool { return e.BitPix > 0 }

// WriteFitsFile writes img to path.
func WriteFitsFile(path string, img *Image, enc Encoding) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating FITS file")
	}
	if err := WriteFits(f, img, enc); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing FITS file")
}

// WriteFits writes img as a single HDU, one NAXIS3 plane per band.
func WriteFits(w io.Writer, img *Image, enc Encoding) error {
	if len(img.Bands) == 0 {
		return errors.New("image has no bands")
	}
	if enc.BitPix != -32 && enc.BitPix != 16 {
		return errors.Errorf("unsupported BITPIX %d", enc.BitPix)
	}
	bw := bufio.NewWriter(w)
	hw := &headerWriter{w: bw}

	hw.boolCard("SIMPLE", true)
	hw.intCard("BITPIX", int64(enc.BitPix))
	naxis := 2
	if len(img.Bands) > 1 {
		naxis = 3
	}
	hw.intCard("NAXIS", int64(naxis))
	hw.intCard("NAXIS1", int64(img.Grid.Width))
	hw.intCard("NAXIS2", int64(img.Grid.Height))
	if naxis == 3 {
		hw.intCard("NAXIS3", int64(len(img.Bands)))
	}
	if enc.integer() {
		hw.floatCard("BSCALE", enc.Scale)
		hw.floatCard("BZERO", enc.Zero)
		hw.intCard("BLANK", enc.Blank)
	}
	for i, b := range img.Bands {
		hw.strCard(fmt.Sprintf("BAND%d", i+1), b.Name)
	}
	hw.strCard("CRS", img.Grid.CRS)
	for i, v := range img.Grid.Transform {
		hw.floatCard(fmt.Sprintf("XFORM%d", i+1), v)
	}
	md := img.Metadata
	if md.SceneID != "" {
		hw.strCard("SCENEID", md.SceneID)
	}
	if md.Satellite != "" {
		hw.strCard("SATELLIT", md.Satellite)
	}
	if !md.TimeStart.IsZero() {
		hw.strCard("DATE-OBS", md.TimeStart.UTC().Format(time.RFC3339))
	}
	n := 0
	for _, k := range md.PropertyKeys() {
		v := md.Properties[k]
		if k == "energy_conservation" {
			if b, err := strconv.ParseBool(v); err == nil {
				hw.boolCard("ENERGYC", b)
				continue
			}
		}
		n++
		hw.strCard(fmt.Sprintf("PROP%d", n), k+"="+v)
	}
	hw.card("END")
	hw.pad(' ')
	if hw.err != nil {
		return errors.Wrap(hw.err, "writing FITS header")
	}

	written := 0
	buf := make([]byte, 8)
	for _, b := range img.Bands {
		if len(b.Data) != img.Grid.Len() {
			return errors.Errorf("band %q has %d pixels, grid has %d", b.Name, len(b.Data), img.Grid.Len())
		}
		for _, v := range b.Data {
			var p []byte
			if enc.integer() {
				binary.BigEndian.PutUint16(buf, uint16(int16(encodeFixed(v, enc))))
				p = buf[:2]
			} else {
				binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
				p = buf[:4]
			}
			if _, err := bw.Write(p); err != nil {
				return errors.Wrap(err, "writing FITS data")
			}
			written += len(p)
		}
	}
	if rem := written % fitsBlockSize; rem != 0 {
		if _, err := bw.Write(make([]byte, fitsBlockSize-rem)); err != nil {
			return errors.Wrap(err, "writing FITS padding")
		}
	}
	return errors.Wrap(bw.Flush(), "flushing FITS data")
}

func encodeFixed(v float64, enc Encoding) int64 {
	if math.IsNaN(v) {
		return enc.Blank
	}
	raw := math.Round((v - enc.Zero) / enc.Scale)
	lo, hi := float64(math.MinInt16+1), float64(math.MaxInt16)
	if raw < lo {
		raw = lo
	}
	if raw > hi {
		raw = hi
	}
	return int64(raw)
}

type headerWriter struct {
	w       io.Writer
	err     error
	written int
}

func (h *headerWriter) card(s string) {
	if h.err != nil {
		return
	}
	if len(s) > fitsRecordSize {
		s = s[:fitsRecordSize]
	}
	s += strings.Repeat(" ", fitsRecordSize-len(s))
	_, h.err = io.WriteString(h.w, s)
	h.written += fitsRecordSize
}

func (h *headerWriter) keyValue(key, value string) {
	h.card(fmt.Sprintf("%-8s= %s", key, value))
}

func (h *headerWriter) boolCard(key string, v bool) {
	c := "F"
	if v {
		c = "T"
	}
	h.keyValue(key, fmt.Sprintf("%20s", c))
}

func (h *headerWriter) intCard(key string, v int64) {
	h.keyValue(key, fmt.Sprintf("%20d", v))
}

func (h *headerWriter) floatCard(key string, v float64) {
	s := strconv.FormatFloat(v, 'G', -1, 64)
	if !strings.ContainsAny(s, ".EN") {
		s += ".0"
	}
	h.keyValue(key, fmt.Sprintf("%20s", s))
}

func (h *headerWriter) strCard(key, v string) {
	v = strings.ReplaceAll(v, "'", "''")
	if len(v) < 8 {
		v += strings.Repeat(" ", 8-len(v))
	}
	h.keyValue(key, "'"+v+"'")
}

func (h *headerWriter) pad(c byte) {
	if h.err != nil {
		return
	}
	if rem := h.written % fitsBlockSize; rem != 0 {
		_, h.err = io.WriteString(h.w, strings.Repeat(string(c), fitsBlockSize-rem))
	}
}
