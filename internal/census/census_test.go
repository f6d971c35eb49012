package census

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"

	"dotmap/internal/sampler"
)

func TestCategoryCodes(t *testing.T) {
	want := "wbaho"
	got := string(AllCategories().Codes())
	if got != want {
		t.Fatalf("codes = %q, want %q", got, want)
	}
	for _, c := range AllCategories() {
		back, ok := CategoryForCode(c.Code())
		if !ok || back != c {
			t.Errorf("CategoryForCode(%c) = %v,%v", c.Code(), back, ok)
		}
		p, err := ParseCategory(c.String())
		if err != nil || p != c {
			t.Errorf("ParseCategory(%q) = %v,%v", c.String(), p, err)
		}
	}
	if _, err := ParseCategory("martian"); err == nil {
		t.Error("ParseCategory accepted unknown name")
	}
	if _, ok := CategoryForCode('z'); ok {
		t.Error("CategoryForCode accepted unknown code")
	}
}

func TestParseCategorySet(t *testing.T) {
	set, err := ParseCategorySet("h, w,o")
	if err != nil {
		t.Fatalf("ParseCategorySet: %v", err)
	}
	if got := string(set.Codes()); got != "hwo" {
		t.Errorf("codes = %q", got)
	}
	if _, err := ParseCategorySet("w,white"); err == nil {
		t.Error("duplicate category accepted")
	}
}

func TestBindingResolve(t *testing.T) {
	fields := []string{"GEOID10", "STATEFP10", "POP10", "NH_WHITE_N", "nh_black_n", "nh_asian_n", "hispanic_n", "NH_Other_n"}
	acc, err := DefaultBinding().Resolve(fields)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	row := []string{"060014001001", "06", "12", "3", "", "4.0", "-2", "1"}
	region, total, counts, clamped, err := acc.Decode(func(i int) string { return row[i] })
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if region != "06" || total != 12 {
		t.Errorf("region,total = %q,%d", region, total)
	}
	if want := [NumCategories]int{3, 0, 4, 0, 1}; counts != want {
		t.Errorf("counts = %v, want %v", counts, want)
	}
	if !clamped {
		t.Error("negative count not reported as clamped")
	}
}

func TestBindingMissingFields(t *testing.T) {
	_, err := DefaultBinding().Resolve([]string{"POP10", "STATEFP10"})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
}

func TestDecodeBadRecord(t *testing.T) {
	acc, err := DefaultBinding().Resolve([]string{"POP10", "STATEFP10", "nh_white_n", "nh_black_n", "nh_asian_n", "hispanic_n", "NH_Other_n"})
	if err != nil {
		t.Fatal(err)
	}
	row := []string{"1", "06", "abc", "0", "0", "0", "0"}
	if _, _, _, _, err := acc.Decode(func(i int) string { return row[i] }); !errors.Is(err, ErrBadRecord) {
		t.Fatalf("err = %v, want ErrBadRecord", err)
	}
}

func TestFeatureCounts(t *testing.T) {
	f := Feature{Counts: [NumCategories]int{3, 0, 1, 0, 2}}
	if f.Persons() != 6 || f.Count(Asian) != 1 || f.Count(Category(9)) != 0 {
		t.Errorf("Persons=%d Count(Asian)=%d", f.Persons(), f.Count(Asian))
	}
}

func TestGroupRingsByOrientation(t *testing.T) {
	cw := []sampler.Point{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}
	hole := []sampler.Point{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}}
	cw2 := []sampler.Point{{20, 0}, {20, 1}, {21, 1}, {21, 0}, {20, 0}}
	polys := groupRings([][]sampler.Point{cw, hole, cw2})
	if len(polys) != 2 || len(polys[0].Rings) != 2 || len(polys[1].Rings) != 1 {
		t.Fatalf("grouping = %d polygons", len(polys))
	}
	// 全部逆时针：每个环都是外环
	ccw := []sampler.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	if got := groupRings([][]sampler.Point{ccw, hole}); len(got) != 2 {
		t.Errorf("all-ccw grouping = %d polygons, want 2", len(got))
	}
}

func writeShapefile(t *testing.T, dir string, rows [][]any, parts [][][]shp.Point) string {
	t.Helper()
	path := filepath.Join(dir, "blocks.shp")
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		t.Fatalf("shp.Create: %v", err)
	}
	fields := []shp.Field{
		shp.StringField("STATEFP10", 2),
		shp.NumberField("POP10", 10),
		shp.NumberField("nh_white_n", 10),
		shp.NumberField("nh_black_n", 10),
		shp.NumberField("nh_asian_n", 10),
		shp.NumberField("hispanic_n", 10),
		shp.NumberField("NH_Other_n", 10),
	}
	if err := w.SetFields(fields); err != nil {
		t.Fatalf("SetFields: %v", err)
	}
	for i, p := range parts {
		if p == nil {
			// 空几何记录：记录头的类型码取自 GeometryType
			w.GeometryType = shp.NULL
			w.Write(&shp.Null{})
			w.GeometryType = shp.POLYGON
		} else {
			poly := shp.Polygon(*shp.NewPolyLine(p))
			w.Write(&poly)
		}
		for j, v := range rows[i] {
			if err := w.WriteAttribute(i, j, v); err != nil {
				t.Fatalf("WriteAttribute(%d,%d): %v", i, j, err)
			}
		}
	}
	w.Close()
	return path
}

func TestShapefileSource(t *testing.T) {
	outer := []shp.Point{{X: -122, Y: 37}, {X: -122, Y: 38}, {X: -121, Y: 38}, {X: -121, Y: 37}, {X: -122, Y: 37}}
	hole := []shp.Point{{X: -121.6, Y: 37.4}, {X: -121.4, Y: 37.4}, {X: -121.4, Y: 37.6}, {X: -121.6, Y: 37.6}, {X: -121.6, Y: 37.4}}
	flat := []shp.Point{{X: -120, Y: 37}, {X: -120, Y: 38}, {X: -120, Y: 39}, {X: -120, Y: 37}}
	path := writeShapefile(t, t.TempDir(),
		[][]any{{"06", 4, 3, 0, 1, 0, 0}, {"06", 2, 0, 2, 0, 0, 0}, {"06", 7, 7, 0, 0, 0, 0}},
		[][][]shp.Point{{outer, hole}, {flat}, nil},
	)
	src, err := Open(path, DefaultBinding())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	if src.Len() != 3 {
		t.Errorf("Len = %d, want 3", src.Len())
	}

	f, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.RegionID != "06" || f.Total != 4 || f.Counts != [NumCategories]int{3, 0, 1, 0, 0} {
		t.Errorf("feature 0 = %+v", f)
	}
	if f.Shape == nil || len(f.Shape.Polygons) != 1 || len(f.Shape.Polygons[0].Rings) != 2 {
		t.Fatalf("feature 0 shape = %+v (err %v)", f.Shape, f.GeometryErr)
	}
	if f.Shape.Contains(sampler.Point{Lon: -121.5, Lat: 37.5}) {
		t.Error("hole point reported inside")
	}

	f, err = src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Shape != nil || !errors.Is(f.GeometryErr, sampler.ErrDegenerateGeometry) {
		t.Errorf("degenerate feature: shape=%v err=%v", f.Shape, f.GeometryErr)
	}

	f, err = src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Index != 2 || f.Total != 7 || f.Count(White) != 7 {
		t.Errorf("null-shape feature = %+v", f)
	}
	if f.Shape != nil || !errors.Is(f.GeometryErr, sampler.ErrDegenerateGeometry) {
		t.Errorf("null-shape feature: shape=%v err=%v", f.Shape, f.GeometryErr)
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("after last feature err = %v, want io.EOF", err)
	}
}

func TestShapefileMissingField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.shp")
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.SetFields([]shp.Field{shp.NumberField("POP10", 10)}); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if _, err := OpenShapefile(path, DefaultBinding()); !errors.Is(err, ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
}

const fixtureGeoJSON = `{
  "type": "FeatureCollection",
  "name": "blocks",
  "features": [
    {"type": "Feature",
     "properties": {"STATEFP10": "06", "POP10": 4, "nh_white_n": 3, "nh_black_n": 0, "nh_asian_n": 1, "hispanic_n": 0, "NH_Other_n": 0},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
    {"type": "Feature",
     "properties": {"STATEFP10": "06", "POP10": 5, "nh_white_n": 5, "nh_black_n": 0, "nh_asian_n": 0, "hispanic_n": 0, "NH_Other_n": 0},
     "geometry": null},
    {"type": "Feature",
     "properties": {"STATEFP10": "06", "POP10": 2, "nh_white_n": 1, "nh_black_n": 0, "nh_asian_n": 0, "hispanic_n": 1.0, "NH_Other_n": null},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[0,0],[1,0],[1,1],[0,0]]], [[[5,5],[6,5],[6,6],[5,6],[5,5]]]]}}
  ]
}`

func TestGeoJSONSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.geojson")
	if err := os.WriteFile(path, []byte(fixtureGeoJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := Open(path, DefaultBinding())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	var got []Feature
	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("features = %d, want 3", len(got))
	}
	if got[0].Shape == nil || got[0].Counts != [NumCategories]int{3, 0, 1, 0, 0} {
		t.Errorf("feature 0 = %+v", got[0])
	}
	if got[1].Shape != nil || got[1].GeometryErr == nil {
		t.Errorf("null geometry: shape=%v err=%v", got[1].Shape, got[1].GeometryErr)
	}
	if got[2].Shape == nil || len(got[2].Shape.Polygons) != 2 {
		t.Fatalf("multipolygon shape = %+v (err %v)", got[2].Shape, got[2].GeometryErr)
	}
	if got[2].Counts != [NumCategories]int{1, 0, 0, 1, 0} {
		t.Errorf("feature 2 counts = %v", got[2].Counts)
	}
	for i, f := range got {
		if f.Index != i {
			t.Errorf("feature %d index = %d", i, f.Index)
		}
	}
}

func TestGeoJSONEmptyCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := OpenGeoJSON(path, DefaultBinding())
	if err != nil {
		t.Fatalf("OpenGeoJSON: %v", err)
	}
	defer src.Close()
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestOpenUnsupported(t *testing.T) {
	if _, err := Open("blocks.csv", DefaultBinding()); err == nil {
		t.Error("Open accepted .csv")
	}
}
