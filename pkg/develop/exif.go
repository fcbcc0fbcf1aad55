package develop

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errNoEXIF = errors.New("develop: no exif data")

// Metadata is the camera summary reported for an open session. Every field
// is a string and missing values are empty.
type Metadata struct {
	Make             string `json:"make"`
	Model            string `json:"model"`
	Lens             string `json:"lens"`
	ISO              string `json:"iso"`
	ExposureTime     string `json:"exposureTime"`
	FNumber          string `json:"fNumber"`
	FocalLength      string `json:"focalLength"`
	DateTimeOriginal string `json:"dateTimeOriginal"`

	Orientation int `json:"-"`
}

const (
	ifd0 = iota
	ifdExif
	ifdGPS
)

type tagKey struct {
	ifd int
	tag uint16
}

const (
	tagMake             = 0x010F
	tagModel            = 0x0110
	tagOrientation      = 0x0112
	tagExifPointer      = 0x8769
	tagGPSPointer       = 0x8825
	tagExposureTime     = 0x829A
	tagFNumber          = 0x829D
	tagISO              = 0x8827
	tagDateTimeOriginal = 0x9003
	tagCreateDate       = 0x9004
	tagFocalLength      = 0x920A
	tagLensModel        = 0xA434
)

// ReadMetadata extracts Metadata from a TIFF file or a JPEG carrying an
// APP1 Exif segment.
func ReadMetadata(data []byte) (Metadata, error) {
	start, err := tiffStart(data)
	if err != nil {
		return Metadata{}, err
	}
	tags, err := readTags(data, start)
	if err != nil {
		return Metadata{}, err
	}
	return metadataFromTags(tags), nil
}

func metadataFromTags(tags map[tagKey]string) Metadata {
	get := func(ifd int, tag uint16) string { return strings.TrimSpace(tags[tagKey{ifd, tag}]) }
	md := Metadata{
		Make:             get(ifd0, tagMake),
		Model:            get(ifd0, tagModel),
		Lens:             get(ifdExif, tagLensModel),
		ISO:              firstValue(get(ifdExif, tagISO)),
		ExposureTime:     reduceRational(get(ifdExif, tagExposureTime)),
		FNumber:          decimal(get(ifdExif, tagFNumber)),
		FocalLength:      decimal(get(ifdExif, tagFocalLength)),
		DateTimeOriginal: get(ifdExif, tagDateTimeOriginal),
	}
	if md.DateTimeOriginal == "" {
		md.DateTimeOriginal = get(ifdExif, tagCreateDate)
	}
	if o, err := strconv.Atoi(firstValue(get(ifd0, tagOrientation))); err == nil && o >= 1 && o <= 8 {
		md.Orientation = o
	}
	return md
}

func firstValue(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[:i]
	}
	return s
}

// decimal renders a rational as a short decimal, "28/10" becomes "2.8".
func decimal(s string) string {
	if s == "" {
		return ""
	}
	v, err := parseRational(firstValue(s))
	if err != nil {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// reduceRational keeps exposure times in their usual "1/250" form.
func reduceRational(s string) string {
	num, den, ok := splitRational(firstValue(s))
	if !ok {
		return ""
	}
	if num == 0 {
		return "0"
	}
	g := gcd(num, den)
	num, den = num/g, den/g
	if den == 1 {
		return strconv.FormatUint(uint64(num), 10)
	}
	return fmt.Sprintf("%d/%d", num, den)
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func splitRational(s string) (num, den uint32, ok bool) {
	n, d, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, false
	}
	a, err1 := strconv.ParseUint(n, 10, 32)
	b, err2 := strconv.ParseUint(d, 10, 32)
	if err1 != nil || err2 != nil || b == 0 {
		return 0, 0, false
	}
	return uint32(a), uint32(b), true
}

func parseRational(s string) (float64, error) {
	num, den, ok := splitRational(s)
	if !ok {
		return 0, fmt.Errorf("invalid rational: %q", s)
	}
	return float64(num) / float64(den), nil
}

// tiffStart locates the TIFF header: offset 0 for a TIFF file, or just
// past "Exif\0\0" in a JPEG's APP1 segment.
func tiffStart(data []byte) (int, error) {
	if len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))) {
		return 0, nil
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return -1, errNoEXIF
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			i++
			continue
		}
		marker := data[i+1]
		if marker == 0xDA {
			break
		}
		segLen := int(data[i+2])<<8 | int(data[i+3])
		if marker == 0xE1 && segLen >= 8 && i+10 <= len(data) && string(data[i+4:i+10]) == "Exif\x00\x00" {
			return i + 10, nil
		}
		if segLen <= 2 {
			i += 2
		} else {
			i += 2 + segLen
		}
	}
	return -1, errNoEXIF
}

// readTags walks IFD0 and the Exif and GPS sub-IFDs it points to. Values
// are rendered as strings: integers in decimal, rationals as "num/den",
// multi-valued tags comma separated.
func readTags(data []byte, start int) (map[tagKey]string, error) {
	res := map[tagKey]string{}
	if start < 0 || start+8 > len(data) {
		return res, fmt.Errorf("tiff header truncated")
	}
	var order binary.ByteOrder
	switch string(data[start : start+2]) {
	case "MM":
		order = binary.BigEndian
	case "II":
		order = binary.LittleEndian
	default:
		return res, fmt.Errorf("unknown tiff byte order")
	}
	if order.Uint16(data[start+2:start+4]) != 0x002A {
		return res, fmt.Errorf("invalid tiff magic")
	}

	visited := map[int]bool{}
	var walk func(off, ifd int)
	walk = func(off, ifd int) {
		abs := start + off
		if off <= 0 || abs+2 > len(data) || visited[abs] {
			return
		}
		visited[abs] = true
		n := int(order.Uint16(data[abs : abs+2]))
		base := abs + 2
		for e := range n {
			ent := base + e*12
			if ent+12 > len(data) {
				return
			}
			tag := order.Uint16(data[ent : ent+2])
			typ := order.Uint16(data[ent+2 : ent+4])
			count := int(order.Uint32(data[ent+4 : ent+8]))
			valOff := data[ent+8 : ent+12]

			switch tag {
			case tagExifPointer:
				walk(int(order.Uint32(valOff)), ifdExif)
				continue
			case tagGPSPointer:
				walk(int(order.Uint32(valOff)), ifdGPS)
				continue
			}

			size := typeSize(typ)
			if size == 0 || count <= 0 {
				continue
			}
			total := count * size
			var raw []byte
			if total <= 4 {
				raw = valOff[:total]
			} else {
				p := int(order.Uint32(valOff))
				if p < 0 || start+p+total > len(data) {
					continue
				}
				raw = data[start+p : start+p+total]
			}
			if s := formatValue(order, typ, count, raw); s != "" {
				res[tagKey{ifd, tag}] = s
			}
		}
		if last := base + n*12; last+4 <= len(data) {
			walk(int(order.Uint32(data[last:last+4])), ifd)
		}
	}
	walk(int(order.Uint32(data[start+4:start+8])), ifd0)
	return res, nil
}

// typeSize is the byte size of one TIFF value, 0 for unsupported types.
func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 7:
		return 1
	case 3:
		return 2
	case 4:
		return 4
	case 5:
		return 8
	}
	return 0
}

func formatValue(order binary.ByteOrder, typ uint16, count int, raw []byte) string {
	if typ == 2 {
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		return string(raw)
	}
	vals := make([]string, 0, count)
	for i := range count {
		switch typ {
		case 1, 7:
			vals = append(vals, strconv.Itoa(int(raw[i])))
		case 3:
			vals = append(vals, strconv.Itoa(int(order.Uint16(raw[i*2:]))))
		case 4:
			vals = append(vals, strconv.FormatUint(uint64(order.Uint32(raw[i*4:])), 10))
		case 5:
			num := order.Uint32(raw[i*8:])
			den := order.Uint32(raw[i*8+4:])
			vals = append(vals, fmt.Sprintf("%d/%d", num, den))
		}
	}
	return strings.Join(vals, ",")
}
