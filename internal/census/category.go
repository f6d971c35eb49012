// 包 census：人口普查街区要素的读取与字段绑定
// 背景：数据源（Shapefile/GeoJSON）逐行产出 多边形 + 属性；字段按名称在迭代前一次性解析为下标，逐行只做按下标取值与数值转换。
// 约束：族裔类别为固定闭集，输出编码固定为单字符；类别表不对外开放扩展。
package census

import (
	"fmt"
	"strings"
)

// Category：族裔类别
type Category uint8

const (
	White Category = iota
	Black
	Asian
	Hispanic
	Other
)

// NumCategories：类别总数
const NumCategories = 5

var categoryTable = [NumCategories]struct {
	name string
	code byte
}{
	White:    {"white", 'w'},
	Black:    {"black", 'b'},
	Asian:    {"asian", 'a'},
	Hispanic: {"hispanic", 'h'},
	Other:    {"other", 'o'},
}

func (c Category) Valid() bool { return int(c) < NumCategories }

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryTable[c].name
}

// Code：输出记录中的单字符类别编码
func (c Category) Code() byte {
	if !c.Valid() {
		return '?'
	}
	return categoryTable[c].code
}

// ParseCategory：按名称或单字符编码解析类别（不区分大小写）
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, info := range categoryTable {
		if s == info.name || (len(s) == 1 && s[0] == info.code) {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("census: unknown category %q", s)
}

// CategoryForCode：输出编码 → 类别
func CategoryForCode(code byte) (Category, bool) {
	for i, info := range categoryTable {
		if info.code == code {
			return Category(i), true
		}
	}
	return 0, false
}

// CategorySet：有序类别列表，决定单个要素内的生成顺序
type CategorySet []Category

// AllCategories：全部五类，顺序 w b a h o
func AllCategories() CategorySet {
	return CategorySet{White, Black, Asian, Hispanic, Other}
}

// ParseCategorySet：解析逗号分隔的类别列表；空串返回全部类别，重复项报错
func ParseCategorySet(s string) (CategorySet, error) {
	if strings.TrimSpace(s) == "" {
		return AllCategories(), nil
	}
	var out CategorySet
	var seen [NumCategories]bool
	for _, part := range strings.Split(s, ",") {
		c, err := ParseCategory(part)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("census: duplicate category %q", c)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// Codes：类别编码串，如 "wbaho"
func (s CategorySet) Codes() string {
	b := make([]byte, len(s))
	for i, c := range s {
		b[i] = c.Code()
	}
	return string(b)
}
