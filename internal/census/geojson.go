package census

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"dotmap/internal/sampler"
)

// GeoJSONSource：流式读取 GeoJSON FeatureCollection
// 背景：州级街区文件可达数百 MB，逐要素解码，不整体读入内存。
// 约束：字段绑定以首个要素的 properties 键集合为准；仅支持 Polygon / MultiPolygon，null 几何视为无几何。
type GeoJSONSource struct {
	path    string
	f       *os.File
	dec     *json.Decoder
	acc     *Accessor
	pending *geoFeature
	idx     int
	done    bool
}

type geoFeature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type geoGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// OpenGeoJSON：打开文件，定位到 features 数组并用首个要素完成字段绑定
func OpenGeoJSON(path string, b Binding) (*GeoJSONSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &GeoJSONSource{path: path, f: f}
	s.dec = json.NewDecoder(bufio.NewReaderSize(f, 1<<20))
	s.dec.UseNumber()
	if err := s.seekFeatures(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	first, err := s.decodeNext()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if first == nil {
		// 空集合：无需绑定
		s.done = true
		return s, nil
	}
	keys := make([]string, 0, len(first.Properties))
	for k := range first.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if s.acc, err = b.Resolve(keys); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.pending = first
	return s, nil
}

func (s *GeoJSONSource) seekFeatures() error {
	tok, err := s.dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object at top level", ErrBadRecord)
	}
	for s.dec.More() {
		tok, err = s.dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		if key != "features" {
			var skip json.RawMessage
			if err := s.dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		tok, err = s.dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return fmt.Errorf("%w: features is not an array", ErrBadRecord)
		}
		return nil
	}
	return fmt.Errorf("%w: no features array", ErrBadRecord)
}

func (s *GeoJSONSource) decodeNext() (*geoFeature, error) {
	if !s.dec.More() {
		return nil, io.EOF
	}
	var gf geoFeature
	if err := s.dec.Decode(&gf); err != nil {
		return nil, err
	}
	return &gf, nil
}

func (s *GeoJSONSource) Len() int     { return -1 }
func (s *GeoJSONSource) Close() error { return s.f.Close() }

func (s *GeoJSONSource) Next() (Feature, error) {
	if s.done {
		return Feature{}, io.EOF
	}
	gf := s.pending
	s.pending = nil
	if gf == nil {
		var err error
		if gf, err = s.decodeNext(); err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				return Feature{}, io.EOF
			}
			return Feature{}, fmt.Errorf("%s: %w", s.path, err)
		}
	}
	row := s.idx
	s.idx++
	f := Feature{Index: row}
	region, total, counts, _, err := s.acc.Decode(func(i int) string {
		return propString(gf.Properties, s.acc.FieldName(i))
	})
	if err != nil {
		return f, fmt.Errorf("%s feature %d: %w", s.path, row, err)
	}
	f.RegionID, f.Total, f.Counts = region, total, counts
	polys, err := parseGeometry(gf.Geometry)
	if err != nil {
		f.GeometryErr = err
		return f, nil
	}
	f.Shape, f.GeometryErr = buildShape(polys)
	return f, nil
}

func propString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok {
		for k, vv := range props {
			if strings.EqualFold(k, key) {
				v, ok = vv, true
				break
			}
		}
	}
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}

func parseGeometry(raw json.RawMessage) ([]sampler.Polygon, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: null geometry", sampler.ErrDegenerateGeometry)
	}
	var g geoGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", sampler.ErrDegenerateGeometry, err)
	}
	switch strings.ToLower(g.Type) {
	case "polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("%w: %v", sampler.ErrDegenerateGeometry, err)
		}
		return []sampler.Polygon{toPolygon(rings)}, nil
	case "multipolygon":
		var parts [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return nil, fmt.Errorf("%w: %v", sampler.ErrDegenerateGeometry, err)
		}
		out := make([]sampler.Polygon, 0, len(parts))
		for _, rings := range parts {
			out = append(out, toPolygon(rings))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: geometry type %q", sampler.ErrDegenerateGeometry, g.Type)
}

func toPolygon(rings [][][]float64) sampler.Polygon {
	var poly sampler.Polygon
	for _, ring := range rings {
		rr := make([]sampler.Point, 0, len(ring))
		for _, p := range ring {
			if len(p) >= 2 {
				rr = append(rr, sampler.Point{Lon: p[0], Lat: p[1]})
			}
		}
		poly.Rings = append(poly.Rings, rr)
	}
	return poly
}
