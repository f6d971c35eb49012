package census

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrMissingField = errors.New("census: missing field")
	ErrBadRecord    = errors.New("census: bad record")
)

// Binding：逻辑字段 → 数据源字段名
type Binding struct {
	Population string
	Region     string
	Categories [NumCategories]string
}

// DefaultBinding：2010 年人口普查街区分族裔数据集的字段名
func DefaultBinding() Binding {
	return Binding{
		Population: "POP10",
		Region:     "STATEFP10",
		Categories: [NumCategories]string{
			White:    "nh_white_n",
			Black:    "nh_black_n",
			Asian:    "nh_asian_n",
			Hispanic: "hispanic_n",
			Other:    "NH_Other_n",
		},
	}
}

// Accessor：字段绑定结果，按下标取值，逐行不再扫描字段表
type Accessor struct {
	pop    int
	region int
	cats   [NumCategories]int
	names  []string
}

// Resolve：按字段名解析下标；先精确匹配，再忽略大小写匹配（DBF 字段名常被转为大写）
// 约束：任一字段缺失返回 ErrMissingField，列出全部缺失字段
func (b Binding) Resolve(fields []string) (*Accessor, error) {
	a := &Accessor{names: append([]string(nil), fields...)}
	var missing []string
	find := func(name string) int {
		for i, f := range fields {
			if f == name {
				return i
			}
		}
		for i, f := range fields {
			if strings.EqualFold(f, name) {
				return i
			}
		}
		missing = append(missing, name)
		return -1
	}
	a.pop = find(b.Population)
	a.region = find(b.Region)
	for c := range b.Categories {
		a.cats[c] = find(b.Categories[c])
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return a, nil
}

// FieldName：下标对应的源字段名
func (a *Accessor) FieldName(i int) string {
	if i < 0 || i >= len(a.names) {
		return ""
	}
	return a.names[i]
}

// Decode：用取值函数读出一行的区域编码、总人口与各类别人数
// 约束：空值视为 0；带小数的数值截断取整；负数按 0 处理并通过 clamped 返回；非数值返回 ErrBadRecord
func (a *Accessor) Decode(get func(index int) string) (region string, total int, counts [NumCategories]int, clamped bool, err error) {
	region = strings.TrimSpace(get(a.region))
	if total, err = parseCount(get(a.pop)); err != nil {
		return "", 0, counts, false, fmt.Errorf("%w: field %s: %v", ErrBadRecord, a.FieldName(a.pop), err)
	}
	if total < 0 {
		total, clamped = 0, true
	}
	for c, idx := range a.cats {
		n, perr := parseCount(get(idx))
		if perr != nil {
			return "", 0, counts, false, fmt.Errorf("%w: field %s: %v", ErrBadRecord, a.FieldName(idx), perr)
		}
		if n < 0 {
			n, clamped = 0, true
		}
		counts[c] = n
	}
	return region, total, counts, clamped, nil
}

func parseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite count %q", s)
	}
	return int(f), nil
}
