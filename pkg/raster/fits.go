package raster

import (
	"bytes"
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

const (
	fitsBlockSize  = 2880
	fitsRecordSize = 80
)

// FitsHeader holds parsed FITS header key-value pairs in file order.
type FitsHeader struct {
	Headers map[string]string
	Keys    []string
}

// NewFitsHeader creates an empty FitsHeader.
func NewFitsHeader() *FitsHeader {
	return &FitsHeader{Headers: make(map[string]string)}
}

func (h *FitsHeader) set(key, value string) {
	key = strings.ToUpper(key)
	if _, ok := h.Headers[key]; !ok {
		h.Keys = append(h.Keys, key)
	}
	h.Headers[key] = value
}

func (h *FitsHeader) GetString(key string) string {
	return h.Headers[strings.ToUpper(key)]
}

func (h *FitsHeader) GetDouble(key string) (float64, bool) {
	v, ok := h.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(v), "D", "E", 1), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (h *FitsHeader) GetInt(key string) (int, bool) {
	v, ok := h.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

func (h *FitsHeader) GetDateTime(key string) (time.Time, bool) {
	v, ok := h.Headers[strings.ToUpper(key)]
	if !ok {
		return time.Time{}, false
	}
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Grid reconstructs the geolocation stored in CRS and XFORM1..6. A missing
// transform falls back to unit pixels with y pointing down.
func (h *FitsHeader) Grid(width, height int) Grid {
	g := Grid{CRS: h.GetString("CRS"), Transform: Affine{1, 0, 0, 0, -1, 0}, Width: width, Height: height}
	var t Affine
	for i := range t {
		v, ok := h.GetDouble(fmt.Sprintf("XFORM%d", i+1))
		if !ok {
			return g
		}
		t[i] = v
	}
	g.Transform = t
	return g
}

// Metadata reconstructs scene metadata from SCENEID, SATELLIT, DATE-OBS and
// the PROPn 'key=value' cards.
func (h *FitsHeader) Metadata() Metadata {
	md := Metadata{
		SceneID:    h.GetString("SCENEID"),
		Satellite:  h.GetString("SATELLIT"),
		Properties: map[string]string{},
	}
	if t, ok := h.GetDateTime("DATE-OBS"); ok {
		md.TimeStart = t
	}
	for i := 1; ; i++ {
		v, ok := h.Headers[fmt.Sprintf("PROP%d", i)]
		if !ok {
			break
		}
		if k, val, found := strings.Cut(v, "="); found {
			md.Properties[k] = val
		}
	}
	if v, ok := h.Headers["ENERGYC"]; ok {
		md.Properties["energy_conservation"] = strings.ToLower(v)
	}
	return md
}

// FitsData holds the parsed header and planes of a FITS file.
type FitsData struct {
	Header *FitsHeader
	Width  int
	Height int
	Planes int
	BitPix int
	Data   [][]float64
}

// ReadFits reads a FITS file into an Image.
func ReadFits(filePath string) (*Image, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "opening FITS file")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat FITS file")
	}
	return readFitsImage(f, info.Size())
}

// ReadFitsFromBytes reads an Image from an in-memory FITS file.
func ReadFitsFromBytes(data []byte) (*Image, error) {
	return readFitsImage(bytes.NewReader(data), int64(len(data)))
}

// ReadFitsHeaderOnly reads only the header of a FITS file.
func ReadFitsHeaderOnly(filePath string) (*FitsData, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "opening FITS file")
	}
	defer f.Close()
	return readFitsFromReader(f, true, -1)
}

// ReadFitsImage parses a FITS stream into an Image. Each NAXIS3 plane becomes
// a band named by its BANDn card.
func ReadFitsImage(r io.Reader) (*Image, error) {
	size := int64(-1)
	if l, ok := r.(interface{ Len() int }); ok {
		size = int64(l.Len())
	}
	return readFitsImage(r, size)
}

func readFitsImage(r io.Reader, size int64) (*Image, error) {
	fd, err := readFitsFromReader(r, false, size)
	if err != nil {
		return nil, err
	}
	bands := make([]Band, fd.Planes)
	for i := range bands {
		name := fd.Header.GetString(fmt.Sprintf("BAND%d", i+1))
		if name == "" {
			name = fmt.Sprintf("band_%d", i+1)
		}
		bands[i] = Band{Name: name, Data: fd.Data[i]}
	}
	return NewImage(fd.Header.Grid(fd.Width, fd.Height), fd.Header.Metadata(), bands...)
}

// readFitsFromReader parses one HDU. size is the stream length in bytes, or
// negative when unknown; a data unit longer than the stream is rejected
// before any pixel buffer is allocated.
func readFitsFromReader(r io.Reader, skipPixelData bool, size int64) (*FitsData, error) {
	header := NewFitsHeader()
	recordBuf := make([]byte, fitsRecordSize)
	headerDone := false
	var headerBytes int64

	for !headerDone {
		headerBytes += fitsBlockSize
		for i := 0; i < fitsBlockSize/fitsRecordSize; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return nil, errors.Wrap(err, "reading FITS header record")
			}
			record := string(recordBuf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				remaining := fitsBlockSize/fitsRecordSize - 1 - i
				if remaining > 0 {
					if _, err := io.ReadFull(r, make([]byte, remaining*fitsRecordSize)); err != nil {
						return nil, errors.Wrap(err, "reading FITS header padding")
					}
				}
				break
			}
			if keyword == "" || record[8] != '=' || record[9] != ' ' {
				continue
			}
			if value, ok := parseFitsValue(record[10:]); ok {
				header.set(keyword, value)
			}
		}
	}

	bitpix, _ := header.GetInt("BITPIX")
	naxis, _ := header.GetInt("NAXIS")
	width, _ := header.GetInt("NAXIS1")
	height, _ := header.GetInt("NAXIS2")
	planes := 1
	if naxis >= 3 {
		planes, _ = header.GetInt("NAXIS3")
	}
	if naxis < 2 || naxis > 3 || width <= 0 || height <= 0 || planes <= 0 {
		return nil, errors.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", naxis, width, height)
	}
	bscale, ok := header.GetDouble("BSCALE")
	if !ok {
		bscale = 1
	}
	bzero, _ := header.GetDouble("BZERO")
	blank, hasBlank := header.GetInt("BLANK")

	fd := &FitsData{Header: header, Width: width, Height: height, Planes: planes, BitPix: bitpix}
	if skipPixelData {
		return fd, nil
	}

	bytesPerPixel := int(math.Abs(float64(bitpix))) / 8
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return nil, errors.Errorf("unsupported BITPIX: %d", bitpix)
	}

	planeBytes, err := dataUnitSize(bytesPerPixel, width, height)
	if err != nil {
		return nil, err
	}
	if planeBytes > math.MaxInt64/int64(planes) {
		return nil, errors.Errorf("FITS data unit of %d x %d x %d overflows", width, height, planes)
	}
	if size >= 0 && planeBytes*int64(planes) > size-headerBytes {
		return nil, errors.Errorf("FITS data unit needs %d bytes, stream has %d after the header",
			planeBytes*int64(planes), size-headerBytes)
	}

	numPixels := width * height
	rawBytes := make([]byte, planeBytes)
	fd.Data = make([][]float64, planes)
	for p := 0; p < planes; p++ {
		if _, err := io.ReadFull(r, rawBytes); err != nil {
			return nil, errors.Wrapf(err, "reading plane %d", p+1)
		}
		plane := make([]float64, numPixels)
		for i := 0; i < numPixels; i++ {
			b := rawBytes[i*bytesPerPixel:]
			var raw float64
			var rawInt int64
			isInt := true
			switch bitpix {
			case 8:
				rawInt = int64(b[0])
			case 16:
				rawInt = int64(int16(binary.BigEndian.Uint16(b)))
			case 32:
				rawInt = int64(int32(binary.BigEndian.Uint32(b)))
			case 64:
				rawInt = int64(binary.BigEndian.Uint64(b))
			case -32:
				raw = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
				isInt = false
			case -64:
				raw = math.Float64frombits(binary.BigEndian.Uint64(b))
				isInt = false
			}
			if isInt {
				if hasBlank && rawInt == int64(blank) {
					plane[i] = math.NaN()
					continue
				}
				raw = float64(rawInt)
			}
			plane[i] = raw*bscale + bzero
		}
		fd.Data[p] = plane
	}
	return fd, nil
}

// dataUnitSize returns the byte size of one plane, failing when it does not
// fit in an int.
func dataUnitSize(bytesPerPixel, width, height int) (int64, error) {
	n := int64(bytesPerPixel)
	for _, d := range []int{width, height} {
		if int64(d) > int64(math.MaxInt)/n {
			return 0, errors.Errorf("FITS plane of %d x %d overflows", width, height)
		}
		n *= int64(d)
	}
	return n, nil
}

// parseFitsValue extracts the value field of a header card, handling quoted
// strings with embedded slashes and doubled quotes.
func parseFitsValue(field string) (string, bool) {
	s := strings.TrimLeft(field, " ")
	if s == "" {
		return "", false
	}
	if s[0] == '\'' {
		var sb strings.Builder
		for i := 1; i < len(s); i++ {
			if s[i] != '\'' {
				sb.WriteByte(s[i])
				continue
			}
			if i+1 < len(s) && s[i+1] == '\'' {
				sb.WriteByte('\'')
				i++
				continue
			}
			return strings.TrimRight(sb.String(), " "), true
		}
		return strings.TrimRight(sb.String(), " "), true
	}
	value := strings.TrimSpace(strings.SplitN(s, "/", 2)[0])
	switch value {
	case "":
		return "", false
	case "T":
		return "True", true
	case "F":
		return "False", true
	}
	return value, true
}
